package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framechat/internal/logging"
)

// Server exposes /metrics and /healthz over HTTP for binaries that do not
// already carry an HTTP surface. It implements suture.Service via Serve.
type Server struct {
	addr string

	mu sync.Mutex
	ln net.Listener

	readyCh   chan struct{}
	readyOnce sync.Once
}

// NewServer returns a metrics server bound to addr when served.
func NewServer(addr string) *Server {
	return &Server{addr: addr, readyCh: make(chan struct{})}
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })

	httpSrv := &http.Server{
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

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
	}()

	logging.Info().Str("addr", ln.Addr().String()).Msg("metrics listener starting")
	err = httpSrv.Serve(ln)
	close(served)
	<-done

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

func (s *Server) String() string { return "metrics-server" }
