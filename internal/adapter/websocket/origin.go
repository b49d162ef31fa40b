package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// NewCheckOrigin returns a CheckOrigin function for the upgrader. Requests
// without an Origin header (devices, CLI tools) are always allowed. A "*"
// entry allows every browser origin; otherwise the origin must match an entry
// exactly, ignoring case and a trailing slash. In development, localhost
// origins on any port are allowed as well.
func NewCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	allowAll := slices.Contains(allowed, "*")
	normalized := make([]string, 0, len(allowed))
	for _, o := range allowed {
		normalized = append(normalized, normalizeOrigin(o))
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}

		if slices.Contains(normalized, normalizeOrigin(origin)) {
			return true
		}
		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote", RemoteLabel(r))
		return false
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
