package command

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/platform/retry"
	wsadapter "github.com/pscheid92/sensorrelay/internal/adapter/websocket"
	"github.com/pscheid92/sensorrelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets the test read output while the command is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) (*relay.Relay, string) {
	t.Helper()
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	r := relay.New(clockwork.NewRealClock(), m, relay.DefaultOptions())
	t.Cleanup(r.Stop)

	limits := wsadapter.NewConnectionLimits(clockwork.NewRealClock(), 100, 100, 100, 100)
	h := wsadapter.NewHandler(r, limits, m, wsadapter.HandlerConfig{AllowedOrigins: []string{"*"}, MaxMessageSize: 4096})

	e := echo.New()
	e.GET("/*", h.Handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return r, "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func run(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func waitForConsumers(t *testing.T, r *relay.Relay, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := r.ConsumerCount(context.Background())
		return err == nil && n == expected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatchAndSend(t *testing.T) {
	tests := []struct {
		name      string
		watchArgs []string
		sendArgs  []string
		stdin     string
	}{
		{"token and args", nil, []string{`{"temp":21.5}`, `{"temp":22}`}, ""},
		{"declared roles and stdin", []string{"--declare-role"}, []string{"--declare-role"}, "{\"temp\":21.5}\n\n{\"temp\":22}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, url := startRelay(t)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			type result struct {
				out string
				err error
			}
			watchDone := make(chan result, 1)
			go func() {
				args := append([]string{"--url", url, "watch", "-n", "2"}, tt.watchArgs...)
				out, err := run(t, ctx, "", args...)
				watchDone <- result{out, err}
			}()
			waitForConsumers(t, r, 1)

			sendArgs := append([]string{"--url", url, "send"}, tt.sendArgs...)
			_, err := run(t, ctx, tt.stdin, sendArgs...)
			require.NoError(t, err)

			select {
			case res := <-watchDone:
				require.NoError(t, res.err)
				assert.Equal(t, "{\"temp\":21.5}\n{\"temp\":22}\n", res.out)
			case <-ctx.Done():
				t.Fatal("watch did not receive both payloads")
			}
		})
	}
}

func TestSend_RejectsInvalidJSON(t *testing.T) {
	_, url := startRelay(t)

	_, err := run(t, context.Background(), "", "--url", url, "send", "not-json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestSend_NothingToSend(t *testing.T) {
	_, url := startRelay(t)

	_, err := run(t, context.Background(), "\n  \n", "--url", url, "send")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to send")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	r, url := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "", "--url", url, "watch")
		done <- err
	}()
	waitForConsumers(t, r, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	waitForConsumers(t, r, 0)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := run(t, context.Background(), "", "--url", "://bad", "send", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --url")
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"network", errors.New("connection refused"), retry.Retry},
		{"too many requests", &handshakeError{status: http.StatusTooManyRequests, err: errors.New("bad handshake")}, retry.After},
		{"unavailable", &handshakeError{status: http.StatusServiceUnavailable, err: errors.New("bad handshake")}, retry.Retry},
		{"bad request", &handshakeError{status: http.StatusBadRequest, err: errors.New("bad handshake")}, retry.Stop},
		{"forbidden", &handshakeError{status: http.StatusForbidden, err: errors.New("bad handshake")}, retry.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDialError(tt.err))
		})
	}
}

func TestDial_RetriesUnavailable(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	_, err := run(t, context.Background(), "", "--url", url, "--dial-attempts", "3", "--retry-backoff", "1ms", "send", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDial_StopsOnBadRequest(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad role", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	_, err := run(t, context.Background(), "", "--url", url, "--dial-attempts", "3", "--retry-backoff", "1ms", "send", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), attempts.Load())
}
