package bridge

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"framechat/internal/chat"
	"framechat/internal/frame"
)

// startFakeChatServer runs a minimal framed-TCP peer: it greets each
// connection, then echoes every frame back with an "echo: " prefix.
func startFakeChatServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_ = frame.Write(conn, "[SYS] fake chat ready")
				for {
					text, err := frame.Read(conn)
					if err != nil {
						return
					}
					if err := frame.Write(conn, "echo: "+text); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func startBridge(t *testing.T, chatAddr string) string {
	t.Helper()
	h := NewHandler(chatAddr, []string{"*"}, time.Second)
	ts := httptest.NewServer(Routes(h))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	return string(data)
}

func expectWS(t *testing.T, ws *websocket.Conn, sub string) string {
	t.Helper()
	got := readWS(t, ws)
	if !strings.Contains(got, sub) {
		t.Fatalf("ws message %q, want substring %q", got, sub)
	}
	return got
}

// TestBridgeRelaysBothDirections verifies WebSocket messages become frames
// toward the chat server and frames come back as WebSocket text messages.
func TestBridgeRelaysBothDirections(t *testing.T) {
	chatAddr := startFakeChatServer(t)
	ws := dialWS(t, startBridge(t, chatAddr))

	expectWS(t, ws, "[bridge] connected to chat server")
	expectWS(t, ws, "[SYS] fake chat ready")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello bridge")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	expectWS(t, ws, "echo: hello bridge")

	// Binary messages are coerced to text.
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("binary too")); err != nil {
		t.Fatalf("ws write binary: %v", err)
	}
	expectWS(t, ws, "echo: binary too")
}

// TestBridgeChatUnreachable verifies a failed TCP dial is terminal: the
// peer gets an advisory and the WebSocket closes.
func TestBridgeChatUnreachable(t *testing.T) {
	// Grab a port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := ln.Addr().String()
	_ = ln.Close()

	ws := dialWS(t, startBridge(t, deadAddr))

	expectWS(t, ws, "[bridge] failed to connect to chat server")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("WebSocket still open after terminal dial failure")
	}
}

// TestBridgeForwardsDisconnectNotice verifies that a clean TCP close is
// forwarded as a disconnect notice before the WebSocket closes.
func TestBridgeForwardsDisconnectNotice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = frame.Write(conn, "goodbye")
		_ = conn.Close()
	}()

	ws := dialWS(t, startBridge(t, ln.Addr().String()))

	expectWS(t, ws, "[bridge] connected to chat server")
	expectWS(t, ws, "goodbye")
	expectWS(t, ws, "[bridge] disconnected from chat server.")

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("WebSocket still open after chat connection ended")
	}
}

// TestBridgeAgainstChatServer runs the full stack: a real chat server, the
// bridge in front of it, and a browser-style client speaking only WebSocket.
func TestBridgeAgainstChatServer(t *testing.T) {
	registry := chat.NewRegistry([]string{"#geral"})
	srv := chat.NewServer(chat.Options{
		ListenAddr:      "127.0.0.1:0",
		HomeRoom:        "#geral",
		MaxNickLen:      32,
		RateLimitBurst:  100,
		RateLimitRefill: time.Second,
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("chat server did not stop")
		}
	})
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("chat server did not bind")
	}

	ws := dialWS(t, startBridge(t, srv.Addr()))

	expectWS(t, ws, "[bridge] connected to chat server")
	expectWS(t, ws, "Enter your nickname")

	// Commands pass through the bridge as plain text.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("carol")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	expectWS(t, ws, "Welcome, carol")
	expectWS(t, ws, "[SYS] You entered #geral.")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hello from the browser")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	expectWS(t, ws, "[#geral] carol: hello from the browser")
}

// TestHealthEndpoint verifies the bridge's HTTP surface.
func TestHealthEndpoint(t *testing.T) {
	h := NewHandler("127.0.0.1:1", nil, time.Second)
	ts := httptest.NewServer(Routes(h))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "running") {
		t.Errorf("body = %q", body)
	}

	resp2, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp2.StatusCode)
	}
}

// TestOriginPolicy verifies allowlist matching, the wildcard, and the
// non-browser (no Origin header) case.
func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://app.example.com", "not a url", ""})

	mkReq := func(origin string) *http.Request {
		r, err := http.NewRequest(http.MethodGet, "http://bridge/ws", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if !p.check(mkReq("HTTP://APP.EXAMPLE.COM")) {
		t.Error("case-insensitive match rejected")
	}
	if p.check(mkReq("http://evil.example.com")) {
		t.Error("unlisted origin allowed")
	}
	if !p.check(mkReq("")) {
		t.Error("request without Origin header rejected")
	}

	wild := newOriginPolicy([]string{"*"})
	if !wild.check(mkReq("http://anything.example.com")) {
		t.Error("wildcard policy rejected an origin")
	}
}
