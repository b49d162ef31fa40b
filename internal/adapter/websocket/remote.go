package websocket

import (
	"net"
	"net/http"
	"strings"
)

const unknownRemote = "unknown"

// RemoteLabel identifies the peer behind r for logs and connection limits: the
// first X-Forwarded-For entry, else the socket address host, else "unknown".
// The forwarded header is taken at face value.
func RemoteLabel(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if r.RemoteAddr == "" {
		return unknownRemote
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
