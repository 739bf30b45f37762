// Command chatd runs the framechat TCP chat server.
//
// Configuration is loaded from defaults, an optional YAML file (CHAT_CONFIG
// or ./framechat.yaml), and CHAT_-prefixed environment variables. The
// listener runs under a suture supervisor and stops on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"

	"framechat/internal/chat"
	"framechat/internal/config"
	"framechat/internal/logging"
	"framechat/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	registry := chat.NewRegistry(cfg.DefaultRooms)
	server := chat.NewServer(chat.Options{
		ListenAddr:      cfg.ListenAddr,
		HomeRoom:        cfg.HomeRoom,
		MaxNickLen:      cfg.MaxNickLen,
		RateLimitBurst:  cfg.RateLimit.Burst,
		RateLimitRefill: cfg.RateLimit.RefillInterval,
	}, registry)

	sup := suture.New("chatd", suture.Spec{EventHook: sutureEventHook})
	sup.Add(server)
	if cfg.MetricsAddr != "" {
		sup.Add(metrics.NewServer(cfg.MetricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("listen_addr", cfg.ListenAddr).Strs("rooms", cfg.DefaultRooms).Msg("starting chatd")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}
	logging.Info().Msg("chatd stopped")
}

// sutureEventHook routes supervisor events into the structured log.
func sutureEventHook(e suture.Event) {
	ev := logging.Info()
	if e.Type() == suture.EventTypeServicePanic || e.Type() == suture.EventTypeBackoff {
		ev = logging.Warn()
	}
	ev.Fields(e.Map()).Msg("supervisor event")
}
