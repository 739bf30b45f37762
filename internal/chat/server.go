package chat

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"framechat/internal/logging"
	"framechat/internal/metrics"
)

// Options configures a Server.
type Options struct {
	// ListenAddr is the TCP address to bind.
	ListenAddr string
	// HomeRoom is joined automatically after the handshake.
	HomeRoom string
	// MaxNickLen bounds nickname length.
	MaxNickLen int
	// RateLimitBurst and RateLimitRefill configure per-session message
	// throttling.
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

// Server accepts framed-TCP chat connections and spawns one handler per
// connection. It owns the server-wide session registry used for the
// shutdown broadcast and for force-closing every handle when stopping.
//
// Server implements suture.Service via Serve.
type Server struct {
	opts     Options
	registry *Registry

	mu       sync.Mutex
	sessions map[*Session]struct{}
	ln       net.Listener
	closing  bool

	handlers sync.WaitGroup

	// readyCh is closed once the listener is bound, letting tests and
	// dependent services wait for a usable address.
	readyCh   chan struct{}
	readyOnce sync.Once
}

// NewServer wires a server to its room registry. The registry's dead-session
// sweep is pointed at the server so swept sessions also leave the connection
// table and get their handles closed.
func NewServer(opts Options, registry *Registry) *Server {
	srv := &Server{
		opts:     opts,
		registry: registry,
		sessions: make(map[*Session]struct{}),
		readyCh:  make(chan struct{}),
	}
	registry.OnDead(func(s *Session) {
		srv.forget(s)
		s.Close()
	})
	return srv
}

// Serve binds the listener and accepts until ctx is cancelled. A failed
// accept is logged and the loop continues; only listener closure ends it.
// On cancellation the listener stops, every live session is notified and
// force-closed, and Serve waits for all handlers before returning.
func (srv *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", srv.opts.ListenAddr)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	srv.ln = ln
	srv.closing = false
	srv.mu.Unlock()
	srv.readyOnce.Do(func() { close(srv.readyCh) })

	logging.Info().Str("addr", ln.Addr().String()).Msg("chat server listening")

	served := make(chan struct{})
	defer close(served)
	go func() {
		select {
		case <-served:
		case <-ctx.Done():
			srv.beginShutdown()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if srv.isClosing() || errors.Is(err, net.ErrClosed) {
				break
			}
			// A single failed accept must not kill the listener.
			logging.Warn().Err(err).Msg("accept failed")
			continue
		}

		metrics.ConnectionsAccepted.Inc()
		session := NewSession(conn)
		session.log.Debug().Msg("connection accepted")

		// Registered before the handler starts, so shutdown force-closes
		// peers that are still in the nickname handshake.
		srv.register(session)

		h := newHandler(srv, session)
		srv.handlers.Add(1)
		go func() {
			defer srv.handlers.Done()
			h.run()
		}()
	}

	srv.closeSessions()
	srv.handlers.Wait()
	logging.Info().Msg("chat server stopped")
	return ctx.Err()
}

// Ready returns a channel closed once the listener is bound.
func (srv *Server) Ready() <-chan struct{} { return srv.readyCh }

// Addr returns the bound listener address, or "" before Serve binds it.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ln == nil {
		return ""
	}
	return srv.ln.Addr().String()
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

func (srv *Server) forget(s *Session) {
	srv.mu.Lock()
	_, present := srv.sessions[s]
	delete(srv.sessions, s)
	srv.mu.Unlock()
	if present {
		metrics.ActiveSessions.Dec()
	}
}

func (srv *Server) isClosing() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.closing
}

// beginShutdown stops the accept loop. Closing the listener makes the
// blocked Accept return, which is expected and not reported as a failure.
func (srv *Server) beginShutdown() {
	srv.mu.Lock()
	srv.closing = true
	ln := srv.ln
	srv.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
}

// closeSessions broadcasts the shutdown notice to every registered session
// and force-closes their handles, unblocking any in-flight reads so the
// handlers can exit.
func (srv *Server) closeSessions() {
	srv.mu.Lock()
	snapshot := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		snapshot = append(snapshot, s)
	}
	srv.mu.Unlock()

	for _, s := range snapshot {
		s.Send("[SYS] Server shutting down.")
		s.MarkDead()
		s.CloseWrite()
		s.Close()
	}

	if len(snapshot) > 0 {
		logging.Info().Int("sessions", len(snapshot)).Msg("closed all sessions for shutdown")
	}
}

func (srv *Server) String() string { return "chat-server" }
