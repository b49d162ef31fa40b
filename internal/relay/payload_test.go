package relay

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pscheid92/sensorrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePayload_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"object", `{"temp":21.5}`, `{"temp":21.5}`},
		{"whitespace dropped", "{ \"temp\" : 21.5 }\n", `{"temp":21.5}`},
		{"keys sorted", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"number literal kept", `{"v":1.50,"big":12345678901234567890}`, `{"big":12345678901234567890,"v":1.50}`},
		{"html not escaped", `{"msg":"<b>&</b>"}`, `{"msg":"<b>&</b>"}`},
		{"array", `[1,2,3]`, `[1,2,3]`},
		{"bare number", `42`, `42`},
		{"bare string", `"hello"`, `"hello"`},
		{"null", `null`, `null`},
		{"nested", `{"sensor":{"id":"esp32-1","readings":[1,2]}}`, `{"sensor":{"id":"esp32-1","readings":[1,2]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePayload([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.True(t, json.Valid(got))
		})
	}
}

func TestNormalizePayload_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "not-json"},
		{"empty", ""},
		{"whitespace only", "   "},
		{"truncated object", `{"temp":`},
		{"trailing garbage", `{"temp":21.5}x`},
		{"two values", `{"a":1}{"b":2}`},
		{"single quotes", `{'a':1}`},
		{"ready token", "DASHBOARD_READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizePayload([]byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview([]byte("short")))

	long := strings.Repeat("x", 150)
	got := preview([]byte(long))
	assert.Equal(t, strings.Repeat("x", 100)+"...", got)
}
