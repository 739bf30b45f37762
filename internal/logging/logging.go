// Package logging provides the zerolog-based structured logger shared by the
// chat server and the bridge.
//
// Init is called once at startup with the configured level and format; before
// that, a default logger writing JSON to stderr is active so early failures
// are still reported.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level emitted: trace, debug, info, warn, error.
	Level string
	// Format selects the output encoding: "json" or "console".
	Format string
	// Output overrides the destination. Defaults to os.Stderr.
	Output io.Writer
}

var (
	mu  sync.RWMutex
	log = newLogger(Config{Level: "info", Format: "json"})
)

// Init replaces the global logger with one built from cfg.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(cfg)
}

func newLogger(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Logger returns the current global logger, for callers that want to attach
// their own fields with With().
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Trace starts a trace-level event.
func Trace() *zerolog.Event {
	l := Logger()
	return l.Trace()
}

// Debug starts a debug-level event.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info starts an info-level event.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn starts a warn-level event.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error starts an error-level event.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal starts a fatal-level event; the program exits when it is sent.
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
