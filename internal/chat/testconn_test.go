package chat

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"framechat/internal/frame"
)

// fakeConn is an in-memory net.Conn for session and registry tests. Writes
// are captured for later inspection; reads report end of stream. Setting
// failWrites simulates a dead peer.
type fakeConn struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	failWrites bool
	closed     bool
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites || c.closed {
		return 0, errors.New("broken pipe")
	}
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) failFurtherWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = true
}

func (c *fakeConn) LocalAddr() net.Addr              { return fakeAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr             { return fakeAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// frames decodes every frame written to the connection so far.
func (c *fakeConn) frames(t *testing.T) []string {
	t.Helper()

	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []string
	r := bytes.NewReader(data)
	for {
		text, err := frame.Read(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("malformed frame in captured output: %v", err)
		}
		out = append(out, text)
	}
}

func (c *fakeConn) containsFrame(t *testing.T, want string) bool {
	t.Helper()
	for _, f := range c.frames(t) {
		if f == want {
			return true
		}
	}
	return false
}

// newTestSession returns a session over a fakeConn.
func newTestSession(nick string) (*Session, *fakeConn) {
	conn := &fakeConn{}
	s := NewSession(conn)
	s.SetNickname(nick)
	return s, conn
}
