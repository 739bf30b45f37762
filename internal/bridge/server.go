package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"framechat/internal/logging"
)

// Server runs the bridge's HTTP listener. It implements suture.Service via
// Serve. Only the header read is bounded by a timeout; upgraded WebSocket
// connections are long-lived and manage their own deadlines.
type Server struct {
	addr    string
	handler http.Handler

	mu sync.Mutex
	ln net.Listener

	readyCh   chan struct{}
	readyOnce sync.Once
}

// NewServer wraps handler in an HTTP server bound to addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		readyCh: make(chan struct{}),
	}
}

// Serve listens and serves until ctx is cancelled, then closes the listener
// and all connections, WebSocket sessions included.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logging.Info().Str("addr", ln.Addr().String()).Msg("bridge listening")

	served := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-served:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		// Shutdown does not touch hijacked connections; Close tears down
		// the remaining WebSocket sessions.
		_ = httpSrv.Close()
	}()

	err = httpSrv.Serve(ln)
	close(served)
	<-done
	logging.Info().Msg("bridge stopped")

	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// Ready returns a channel closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Addr returns the bound listener address, or "" before Serve binds it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) String() string { return "bridge-server" }
