// Package command implements relaycli, a small client for poking at a running relay.
package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/sensorrelay/internal/platform/retry"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	url          string
	dialTimeout  time.Duration
	dialAttempts int
	retryBackoff time.Duration
}

// NewRootCmd builds the relaycli command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "relaycli",
		Short: "relaycli - talk to a sensor relay from the terminal",
		Long: `relaycli connects to a sensor relay over WebSocket. Use "watch" to act as a
dashboard and print every payload, or "send" to act as a device and publish JSON.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", "ws://localhost:8080/", "relay WebSocket URL")
	root.PersistentFlags().DurationVar(&opts.dialTimeout, "dial-timeout", 5*time.Second, "handshake timeout")
	root.PersistentFlags().IntVar(&opts.dialAttempts, "dial-attempts", 1, "connection attempts before giving up")
	root.PersistentFlags().DurationVar(&opts.retryBackoff, "retry-backoff", 500*time.Millisecond, "initial pause between connection attempts")

	root.AddCommand(newWatchCmd(opts), newSendCmd(opts))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// handshakeError carries the HTTP status of a rejected upgrade.
type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("%v (HTTP %d)", e.err, e.status)
}

func (e *handshakeError) Unwrap() error { return e.err }

// classifyDialError retries network failures and overloaded servers. Other
// rejected handshakes are permanent.
func classifyDialError(err error) retry.Action {
	var he *handshakeError
	if !errors.As(err, &he) {
		return retry.Retry
	}
	switch he.status {
	case http.StatusTooManyRequests:
		return retry.After
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return retry.Retry
	default:
		return retry.Stop
	}
}

// dial opens a connection, declaring role in the query string when set.
func (o *rootOptions) dial(ctx context.Context, role string) (*websocket.Conn, error) {
	target, err := url.Parse(o.url)
	if err != nil {
		return nil, fmt.Errorf("invalid --url: %w", err)
	}
	if role != "" {
		q := target.Query()
		q.Set("role", role)
		target.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.dialTimeout}
	policy := retry.Policy{
		MaxAttempts:      max(1, o.dialAttempts),
		InitialBackoff:   o.retryBackoff,
		MaxBackoff:       30 * time.Second,
		RateLimitBackoff: 4 * o.retryBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			fmt.Fprintf(os.Stderr, "Connect attempt %d failed: %v, retrying in %v\n", attempt, err, backoff)
		},
	}

	conn, err := retry.Do(ctx, policy, classifyDialError, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
		if err != nil {
			if resp != nil {
				return nil, &handshakeError{status: resp.StatusCode, err: err}
			}
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return conn, nil
}

// closeGracefully sends a normal close frame before closing the socket.
func closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
