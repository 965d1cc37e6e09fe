package relay

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates the Origin header of WebSocket upgrade requests
// against a configured allow list. A single "*" entry allows everything.
type OriginChecker struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *slog.Logger
}

func NewOriginChecker(origins []string, log *slog.Logger) *OriginChecker {
	c := &OriginChecker{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			c.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		c.allowed[normalized] = struct{}{}
	}
	return c
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Check reports whether the request's origin is allowed.
func (c *OriginChecker) Check(r *http.Request) bool {
	if c.allowAll {
		return true
	}

	header := r.Header.Get("Origin")
	if header == "" {
		return false
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		return false
	}

	if _, exists := c.allowed[normalized]; exists {
		return true
	}

	c.log.Warn("blocked websocket connection from disallowed origin", "origin", header)
	return false
}
