package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"framechat/internal/frame"
	"framechat/internal/logging"
	"framechat/internal/metrics"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler upgrades HTTP requests to WebSocket and relays each peer to its
// own framed-TCP connection against the chat server.
type Handler struct {
	chatAddr     string
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewHandler builds a bridge handler targeting the chat server at chatAddr.
func NewHandler(chatAddr string, allowedOrigins []string, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	policy := newOriginPolicy(allowedOrigins)
	return &Handler{
		chatAddr:     chatAddr,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

// ServeWS handles one WebSocket session from upgrade to teardown. It blocks
// for the lifetime of the session; the HTTP server gives each request its
// own goroutine.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	log := logging.Logger().With().Str("remote", r.RemoteAddr).Logger()
	h.relay(ws, log)
}

// relay opens the dedicated TCP connection and runs the two pumps. Failing
// to reach the chat server is terminal for the WebSocket session: the peer
// gets an advisory and the socket is closed.
//
// The session ends when either pump finishes, normally or by error. The
// finished pump closes its counterpart's transport, which unblocks the other
// pump's read; a bridge where only one direction works is a failed session,
// never a half-open one.
func (h *Handler) relay(ws *websocket.Conn, log zerolog.Logger) {
	defer func() { _ = ws.Close() }()

	tcp, err := net.DialTimeout("tcp", h.chatAddr, dialTimeout)
	if err != nil {
		log.Warn().Err(err).Str("chat_addr", h.chatAddr).Msg("chat server unreachable")
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = ws.WriteMessage(websocket.TextMessage,
			fmt.Appendf(nil, "[bridge] failed to connect to chat server %s: %v", h.chatAddr, err))
		return
	}
	defer func() { _ = tcp.Close() }()

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage,
		fmt.Appendf(nil, "[bridge] connected to chat server %s", h.chatAddr)); err != nil {
		return
	}

	metrics.BridgeSessions.Inc()
	defer metrics.BridgeSessions.Dec()
	log.Info().Str("chat_addr", h.chatAddr).Msg("bridge session started")

	stopPing := h.startKeepalive(ws)
	defer stopPing()

	// TCP -> WS pump. Owns all WebSocket data writes after this point.
	tcpDone := make(chan struct{})
	go func() {
		defer close(tcpDone)
		defer func() { _ = ws.Close() }()
		h.pumpTCPToWS(tcp, ws, log)
	}()

	// WS -> TCP pump runs in this goroutine; closing the TCP conn on exit
	// unblocks the other pump's frame read.
	h.pumpWSToTCP(ws, tcp, log)
	_ = tcp.Close()

	<-tcpDone
	log.Info().Msg("bridge session ended")
}

// pumpTCPToWS reads frames from the chat server and forwards each as one
// WebSocket text message. A clean end of stream forwards a disconnect
// notice before closing.
func (h *Handler) pumpTCPToWS(tcp net.Conn, ws *websocket.Conn, log zerolog.Logger) {
	for {
		text, err := frame.Read(tcp)
		if err != nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if errors.Is(err, io.EOF) {
				_ = ws.WriteMessage(websocket.TextMessage, []byte("[bridge] disconnected from chat server."))
			} else {
				log.Debug().Err(err).Msg("tcp read ended")
				_ = ws.WriteMessage(websocket.TextMessage,
					fmt.Appendf(nil, "[bridge] chat connection error: %v", err))
			}
			return
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			log.Debug().Err(err).Msg("ws write failed")
			return
		}
		metrics.BridgeMessagesRelayed.WithLabelValues("tcp_to_ws").Inc()
	}
}

// pumpWSToTCP reads WebSocket messages, coerces them to text, and forwards
// each as one frame. Binary messages are decoded lossily like any payload.
func (h *Handler) pumpWSToTCP(ws *websocket.Conn, tcp net.Conn, log zerolog.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("ws read ended")
			}
			return
		}

		if err := frame.Write(tcp, string(data)); err != nil {
			log.Debug().Err(err).Msg("tcp write failed")
			return
		}
		metrics.BridgeMessagesRelayed.WithLabelValues("ws_to_tcp").Inc()
	}
}

// startKeepalive arranges ping/pong liveness checking on the WebSocket.
// WriteControl is safe to call concurrently with the data pumps.
func (h *Handler) startKeepalive(ws *websocket.Conn) (stop func()) {
	_ = ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
