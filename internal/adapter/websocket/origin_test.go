package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	restricted := []string{"https://dash.example.com", "http://localhost:8080/"}

	tests := []struct {
		name    string
		allowed []string
		dev     bool
		origin  string
		want    bool
	}{
		{"empty origin always allowed", restricted, false, "", true},
		{"wildcard", []string{"*"}, false, "https://anything.example.org", true},
		{"exact match", restricted, false, "https://dash.example.com", true},
		{"case and trailing slash ignored", restricted, false, "HTTP://LOCALHOST:8080", true},
		{"different host", restricted, false, "https://evil.com", false},
		{"different port", restricted, false, "https://dash.example.com:9090", false},
		{"different scheme", restricted, false, "http://dash.example.com", false},
		{"nothing configured", nil, false, "https://dash.example.com", false},
		{"localhost other port in production", restricted, false, "http://localhost:5173", false},
		{"localhost other port in development", restricted, true, "http://localhost:5173", true},
		{"loopback ip in development", nil, true, "http://127.0.0.1:3000", true},
		{"ipv6 loopback in development", nil, true, "http://[::1]:3000", true},
		{"remote host in development", nil, true, "https://evil.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(tt.allowed, tt.dev)
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}
