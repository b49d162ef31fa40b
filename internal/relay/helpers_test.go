package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/domain"
	"github.com/pscheid92/sensorrelay/internal/platform/logging"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *metrics.RelayMetrics {
	return metrics.NewRelayMetrics(prometheus.NewRegistry())
}

func newTestRelay(t *testing.T, clock clockwork.Clock, opts Options) (*Relay, *metrics.RelayMetrics) {
	t.Helper()
	m := newTestMetrics()
	r := New(clock, m, opts)
	t.Cleanup(r.Stop)
	return r, m
}

// newTestConnPair returns both ends of a live WebSocket connection.
func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { _ = serverConn.Close() })

	return serverConn, clientConn
}

// testRelayServer serves every connection through a Session, the same way the
// HTTP adapter does. The returned dial function accepts an optional role query.
func testRelayServer(t *testing.T, r *Relay) func(role string) *ws.Conn {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		declared, err := domain.ParseRole(req.URL.Query().Get("role"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}

		ctx := logging.WithConnID(context.Background(), req.RemoteAddr)
		session := r.OpenSession(ctx, conn, req.RemoteAddr, declared)
		conn.SetPongHandler(session.HandlePong)
		go func() {
			var cause error
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					cause = err
					break
				}
				session.HandleMessage(data)
			}
			session.Close(cause)
			_ = conn.Close()
		}()
	}))
	t.Cleanup(srv.Close)

	return func(role string) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		if role != "" {
			url += "?role=" + role
		}
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
}

func waitForConsumerCount(t *testing.T, r *Relay, expected int) bool {
	t.Helper()
	for range 200 {
		if n, err := r.ConsumerCount(context.Background()); err == nil && n == expected {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func readText(t *testing.T, conn *ws.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, ws.TextMessage, mt)
	return string(msg)
}

// expectSilence asserts that nothing arrives on conn within d. The expired
// deadline leaves conn unreadable, so call it last.
func expectSilence(t *testing.T, conn *ws.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", msg)
}
