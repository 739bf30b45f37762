// Package bridge exposes the framed-TCP chat protocol over WebSocket. Each
// WebSocket peer gets one dedicated TCP connection to the chat server; the
// bridge relays both directions, applying and stripping the 4-byte length
// prefix. Command strings pass through untranslated.
package bridge

import (
	"net/http"
	"net/url"
	"strings"

	"framechat/internal/logging"
)

// originPolicy decides which Origin headers may upgrade. It is built once
// from configuration; "*" in the list allows any origin.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logging.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// check is plugged into the upgrader's CheckOrigin. Requests without an
// Origin header (non-browser clients) are allowed.
func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	if p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	if _, exists := p.allowed[normalized]; exists {
		return true
	}
	logging.Warn().Str("origin", header).Msg("blocked WebSocket upgrade from disallowed origin")
	return false
}
