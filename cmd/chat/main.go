// Command chat is a minimal line-oriented terminal client for the framechat
// server. It prints every frame the server sends and forwards each stdin
// line as one frame. It exists for quick manual testing; browser clients go
// through the bridge instead.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"framechat/internal/frame"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5050", "chat server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("connected to %s\n", *addr)

	// Receiver: print every frame until the server closes the stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			text, err := frame.Read(conn)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
				} else {
					fmt.Println("server closed the connection")
				}
				return
			}
			fmt.Println(text)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := frame.Write(conn, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			break
		}
		if strings.EqualFold(line, "/quit") {
			break
		}
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	<-done
}
