package bridge

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the bridge's HTTP surface: the WebSocket endpoint, a health
// check, and Prometheus metrics.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthHandler)
	r.Get("/ws", h.ServeWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("framechat bridge is running\n"))
}
