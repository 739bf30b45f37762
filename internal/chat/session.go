// Package chat implements the core of the framechat server: per-connection
// sessions, the room registry with its broadcast fan-out, the command
// handler, and the TCP listener that ties them together.
package chat

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"framechat/internal/frame"
	"framechat/internal/logging"
)

// SendResult reports the outcome of a best-effort send to a session.
type SendResult int

const (
	// SendOK means the frame was handed to the kernel in full.
	SendOK SendResult = iota
	// SendFailed means the write failed and the session was marked dead.
	SendFailed
)

// DefaultNickname is the placeholder identity before the handshake sets one.
const DefaultNickname = "anon"

// Session is the server-side state for one connected peer, from accept to
// disconnect. The connection handle is owned exclusively by the session; all
// frame writes go through Send, which serializes concurrent callers so a
// broadcast and a direct reply can never interleave partial frames.
//
// currentRoom is mutated only by the Registry while it holds its own lock;
// the session's mutex makes the field safe to read from other goroutines.
type Session struct {
	id   string
	conn net.Conn
	addr string
	log  zerolog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	nickname    string
	currentRoom string
	alive       bool
}

// NewSession wraps an accepted connection. The peer address is captured once
// and immutable afterwards.
func NewSession(conn net.Conn) *Session {
	id := uuid.NewString()
	addr := ""
	if conn != nil && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}
	return &Session{
		id:       id,
		conn:     conn,
		addr:     addr,
		log:      logging.Logger().With().Str("session", id).Str("addr", addr).Logger(),
		nickname: DefaultNickname,
		alive:    true,
	}
}

// ID returns the session's unique identifier, used for log correlation.
func (s *Session) ID() string { return s.id }

// Addr returns the peer's host:port.
func (s *Session) Addr() string { return s.addr }

// Nickname returns the current nickname.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// SetNickname replaces the nickname. Length bounds are the caller's concern.
func (s *Session) SetNickname(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = name
}

// CurrentRoom returns the room the session is in, or "" if none.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// setCurrentRoom is called by the Registry only, inside its critical section,
// so the room map and this field always agree.
func (s *Session) setCurrentRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = room
}

// Alive reports whether the session has had no failed sends and has not quit.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// MarkDead flags the session so subsequent sends are refused and the next
// broadcast sweep removes it.
func (s *Session) MarkDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

// Send writes one frame to the peer. Failures of any kind, oversized payload
// included, mark the session dead and return SendFailed; they are never
// propagated as errors so a slow or gone peer cannot break a broadcast.
func (s *Session) Send(text string) SendResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.Alive() {
		return SendFailed
	}
	if err := frame.Write(s.conn, text); err != nil {
		s.log.Debug().Err(err).Msg("send failed, marking session dead")
		s.MarkDead()
		return SendFailed
	}
	return SendOK
}

// CloseWrite half-closes the connection when the transport supports it, so
// the peer sees a clean end of stream while in-flight frames still drain.
func (s *Session) CloseWrite() {
	if tc, ok := s.conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// Close force-closes the connection, unblocking any pending read.
func (s *Session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
