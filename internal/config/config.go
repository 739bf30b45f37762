// Package config loads framechat configuration for both the chat server and
// the bridge. Values are layered: struct defaults first, then an optional
// YAML file, then CHAT_-prefixed environment variables, highest priority
// last. Loaded values are sanitized so that zero or nonsense values fall
// back to workable defaults instead of failing startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path when set.
const ConfigPathEnvVar = "CHAT_CONFIG"

// defaultConfigPaths are tried in order when ConfigPathEnvVar is unset.
var defaultConfigPaths = []string{
	"framechat.yaml",
	"framechat.yml",
	"/etc/framechat/config.yaml",
}

// Config holds the full configuration for the chatd and bridge binaries.
type Config struct {
	// ListenAddr is the framed-TCP address the chat server binds.
	ListenAddr string `koanf:"listen_addr"`

	// MetricsAddr enables an HTTP listener serving /metrics and /healthz
	// when non-empty.
	MetricsAddr string `koanf:"metrics_addr"`

	// DefaultRooms are seeded at startup and never deleted when empty.
	DefaultRooms []string `koanf:"default_rooms"`

	// HomeRoom is the room new sessions are placed in after the handshake.
	// It is always one of DefaultRooms.
	HomeRoom string `koanf:"home_room"`

	// MaxNickLen bounds nickname length; longer nicknames are truncated.
	MaxNickLen int `koanf:"max_nick_len"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Bridge    BridgeConfig    `koanf:"bridge"`
}

// RateLimitConfig defines the per-session message rate limit.
type RateLimitConfig struct {
	Burst          int           `koanf:"burst"`
	RefillInterval time.Duration `koanf:"refill_interval"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BridgeConfig holds the WebSocket bridge settings.
type BridgeConfig struct {
	// ListenAddr is the HTTP address the bridge binds for WebSocket upgrades.
	ListenAddr string `koanf:"listen_addr"`

	// ChatAddr is the framed-TCP address of the chat server the bridge
	// opens one dedicated connection to per WebSocket peer.
	ChatAddr string `koanf:"chat_addr"`

	// AllowedOrigins restricts WebSocket upgrades; "*" allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// PingInterval is the WebSocket keepalive ping period.
	PingInterval time.Duration `koanf:"ping_interval"`
}

// Default returns the built-in configuration, mirroring the ports and seeded
// rooms the protocol's reference deployment uses.
func Default() *Config {
	return &Config{
		ListenAddr:   ":5050",
		MetricsAddr:  "",
		DefaultRooms: []string{"#geral", "#jogos"},
		HomeRoom:     "#geral",
		MaxNickLen:   32,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bridge: BridgeConfig{
			ListenAddr:     ":8765",
			ChatAddr:       "127.0.0.1:5050",
			AllowedOrigins: []string{"http://localhost:8765"},
			PingInterval:   20 * time.Second,
		},
	}
}

// envKeyMap translates CHAT_-prefixed environment variables to koanf paths.
// Variables not listed here are ignored.
var envKeyMap = map[string]string{
	"CHAT_LISTEN_ADDR":                "listen_addr",
	"CHAT_METRICS_ADDR":               "metrics_addr",
	"CHAT_DEFAULT_ROOMS":              "default_rooms",
	"CHAT_HOME_ROOM":                  "home_room",
	"CHAT_MAX_NICK_LEN":               "max_nick_len",
	"CHAT_RATE_LIMIT_BURST":           "rate_limit.burst",
	"CHAT_RATE_LIMIT_REFILL_INTERVAL": "rate_limit.refill_interval",
	"CHAT_LOG_LEVEL":                  "log.level",
	"CHAT_LOG_FORMAT":                 "log.format",
	"CHAT_BRIDGE_LISTEN_ADDR":         "bridge.listen_addr",
	"CHAT_BRIDGE_CHAT_ADDR":           "bridge.chat_addr",
	"CHAT_BRIDGE_ALLOWED_ORIGINS":     "bridge.allowed_origins",
	"CHAT_BRIDGE_PING_INTERVAL":       "bridge.ping_interval",
}

// sliceConfigPaths lists the koanf paths holding string slices. Environment
// variables set them as a single comma-separated value, which is split after
// the env layer loads.
var sliceConfigPaths = []string{
	"default_rooms",
	"bridge.allowed_origins",
}

// Load builds the configuration: defaults, then the config file if one is
// found, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("CHAT_", ".", func(key string) string {
		return envKeyMap[key]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, fmt.Errorf("split list values: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	cfg.sanitize()
	return cfg, nil
}

// splitSliceFields turns comma-separated string values at the slice paths
// into string slices. Values already loaded as slices (from the defaults or
// the YAML file) are left alone.
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sanitize repairs zero or invalid values in place so the caller always gets
// a runnable configuration.
func (c *Config) sanitize() {
	def := Default()

	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if len(c.DefaultRooms) == 0 {
		c.DefaultRooms = append([]string(nil), def.DefaultRooms...)
	}
	for i, room := range c.DefaultRooms {
		c.DefaultRooms[i] = NormalizeRoom(room)
	}
	c.HomeRoom = NormalizeRoom(c.HomeRoom)
	if c.HomeRoom == "#" {
		c.HomeRoom = c.DefaultRooms[0]
	}
	if !contains(c.DefaultRooms, c.HomeRoom) {
		c.DefaultRooms = append(c.DefaultRooms, c.HomeRoom)
	}
	if c.MaxNickLen <= 0 {
		c.MaxNickLen = def.MaxNickLen
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = def.Bridge.ListenAddr
	}
	if c.Bridge.ChatAddr == "" {
		c.Bridge.ChatAddr = def.Bridge.ChatAddr
	}
	if c.Bridge.PingInterval <= 0 {
		c.Bridge.PingInterval = def.Bridge.PingInterval
	}
}

// NormalizeRoom trims a room name and ensures the "#" prefix the wire
// protocol's client convention uses.
func NormalizeRoom(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
