// Command bridge runs the WebSocket to framed-TCP bridge for browser
// clients. Each WebSocket connection gets a dedicated TCP connection to the
// chat server; messages are relayed bidirectionally with no command
// translation.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"framechat/internal/bridge"
	"framechat/internal/config"
	"framechat/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	handler := bridge.NewHandler(cfg.Bridge.ChatAddr, cfg.Bridge.AllowedOrigins, cfg.Bridge.PingInterval)
	server := bridge.NewServer(cfg.Bridge.ListenAddr, bridge.Routes(handler))

	sup := suture.New("bridge", suture.Spec{EventHook: sutureEventHook})
	sup.Add(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("listen_addr", cfg.Bridge.ListenAddr).
		Str("chat_addr", cfg.Bridge.ChatAddr).
		Msg("starting bridge")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logging.Info().Msg("bridge stopped")
}

// sutureEventHook routes supervisor events into the structured log.
func sutureEventHook(e suture.Event) {
	ev := logging.Info()
	if e.Type() == suture.EventTypeServicePanic || e.Type() == suture.EventTypeBackoff {
		ev = logging.Warn()
	}
	ev.Fields(e.Map()).Msg("supervisor event")
}
