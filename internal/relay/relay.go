package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/domain"
	"github.com/pscheid92/sensorrelay/internal/platform/logging"
)

const (
	commandTimeout    = 5 * time.Second
	stopTimeout       = 10 * time.Second
	commandBufferSize = 256

	shutdownReason = "server shutting down"
)

// Options tunes the relay loop, consumer writers and connection sessions.
type Options struct {
	ReadyToken          string
	PingInterval        time.Duration
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	SendBufferSize      int
	ProducerMessageRate float64 // messages per second per producer, 0 disables
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		ReadyToken:     "DASHBOARD_READY",
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBufferSize: 16,
	}
}

// relayCmd is the command interface for the Relay actor.
type relayCmd interface{ isRelayCmd() }

type baseRelayCmd struct{}

func (baseRelayCmd) isRelayCmd() {}

type registerCmd struct {
	baseRelayCmd
	connection   *websocket.Conn
	connID       string
	replyChannel chan membership
}

type unregisterCmd struct {
	baseRelayCmd
	connection   *websocket.Conn
	replyChannel chan membership
}

type dispatchCmd struct {
	baseRelayCmd
	data         []byte
	replyChannel chan domain.DispatchResult
}

type countCmd struct {
	baseRelayCmd
	replyChannel chan int
}

type stopCmd struct {
	baseRelayCmd
}

// membership is the reply to register and unregister commands.
type membership struct {
	changed   bool
	consumers int
}

// Relay owns the consumer registry and fans producer payloads out to it. All
// registry access happens on the run goroutine.
type Relay struct {
	cmdCh       chan relayCmd
	clock       clockwork.Clock
	consumers   *registry
	metrics     *metrics.RelayMetrics
	opts        Options
	done        chan struct{}
	closing     atomic.Bool
	stopOnce    sync.Once
	stopTimeout time.Duration
}

// New starts a relay loop. Call Stop to close all consumers and end the loop.
func New(clock clockwork.Clock, m *metrics.RelayMetrics, opts Options) *Relay {
	r := &Relay{
		cmdCh:       make(chan relayCmd, commandBufferSize),
		clock:       clock,
		consumers:   newRegistry(),
		metrics:     m,
		opts:        opts,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go r.run()
	return r
}

// Register adds conn to the consumer registry and returns the registry size.
// Registering a connection twice leaves a single entry.
func (r *Relay) Register(ctx context.Context, conn *websocket.Conn) (int, error) {
	connID, _ := logging.ConnID(ctx)
	reply := make(chan membership, 1)
	m, err := request(ctx, r, registerCmd{connection: conn, connID: connID, replyChannel: reply}, reply)
	if err != nil {
		return 0, fmt.Errorf("register consumer: %w", err)
	}
	return m.consumers, nil
}

// Unregister removes conn from the registry, stops its writer and returns the
// remaining registry size. Unknown connections are ignored.
func (r *Relay) Unregister(ctx context.Context, conn *websocket.Conn) (int, error) {
	reply := make(chan membership, 1)
	m, err := request(ctx, r, unregisterCmd{connection: conn, replyChannel: reply}, reply)
	if err != nil {
		return 0, fmt.Errorf("unregister consumer: %w", err)
	}
	return m.consumers, nil
}

// Dispatch validates raw as JSON and offers the re-encoded payload to every
// registered consumer. Malformed input returns an error wrapping
// domain.ErrMalformedPayload and reaches nobody.
func (r *Relay) Dispatch(ctx context.Context, raw []byte) (domain.DispatchResult, error) {
	data, err := NormalizePayload(raw)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	reply := make(chan domain.DispatchResult, 1)
	return request(ctx, r, dispatchCmd{data: data, replyChannel: reply}, reply)
}

// ConsumerCount returns the current registry size.
func (r *Relay) ConsumerCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	return request(ctx, r, countCmd{replyChannel: reply}, reply)
}

// Ping reports whether the relay loop is alive and answering commands.
func (r *Relay) Ping(ctx context.Context) error {
	_, err := r.ConsumerCount(ctx)
	return err
}

// Stop closes every consumer with a normal close frame and waits for the loop
// to exit. Safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		timeout := r.clock.NewTimer(r.stopTimeout)
		defer timeout.Stop()

		select {
		case r.cmdCh <- stopCmd{}:
		case <-r.done:
			return
		case <-timeout.Chan():
			slog.Warn("Relay stop command could not be queued", "timeout", r.stopTimeout)
			return
		}

		select {
		case <-r.done:
			slog.Info("Relay stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Relay stop timeout exceeded", "timeout", r.stopTimeout)
		}
	})
}

// request sends cmd to the loop and waits for its reply.
func request[T any](ctx context.Context, r *Relay, cmd relayCmd, reply <-chan T) (T, error) {
	var zero T

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case r.cmdCh <- cmd:
	case <-r.done:
		return zero, domain.ErrRelayStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("%w after %v", domain.ErrCommandTimeout, commandTimeout)
	}

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// The loop may have answered just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrRelayStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.Chan():
		return zero, fmt.Errorf("%w after %v", domain.ErrCommandTimeout, commandTimeout)
	}
}

func (r *Relay) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Relay panic recovered", "panic", rec)
			r.metrics.Panics.Inc()
			r.closeAllClients("relay failure")
		}
	}()

	ticker := r.clock.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				r.handleRegister(c)
			case unregisterCmd:
				r.handleUnregister(c)
			case dispatchCmd:
				r.handleDispatch(c)
			case countCmd:
				c.replyChannel <- r.consumers.len()
			case stopCmd:
				r.handleStop()
				return
			default:
				slog.Warn("Relay received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-ticker.Chan():
			r.handleProbe()
		}
	}
}

func (r *Relay) handleRegister(c registerCmd) {
	if r.consumers.contains(c.connection) {
		slog.Debug("Consumer already registered", "conn_id", c.connID)
		c.replyChannel <- membership{changed: false, consumers: r.consumers.len()}
		return
	}

	cw := newClientWriter(c.connection, c.connID, r.clock, r.metrics, r.opts)
	r.consumers.add(cw)
	r.metrics.RegisteredConsumers.Set(float64(r.consumers.len()))

	c.replyChannel <- membership{changed: true, consumers: r.consumers.len()}
}

func (r *Relay) handleUnregister(c unregisterCmd) {
	cw, ok := r.consumers.remove(c.connection)
	if ok {
		cw.stop()
		r.metrics.RegisteredConsumers.Set(float64(r.consumers.len()))
	}
	c.replyChannel <- membership{changed: ok, consumers: r.consumers.len()}
}

func (r *Relay) handleDispatch(c dispatchCmd) {
	start := r.clock.Now()

	result := domain.DispatchResult{Consumers: r.consumers.len()}
	for _, cw := range r.consumers.snapshot() {
		switch cw.enqueue(c.data) {
		case domain.DeliverySent:
			result.Delivered++
		case domain.DeliverySkippedClosed:
			result.SkippedClosed++
		case domain.DeliverySkippedFull:
			result.SkippedFull++
			slog.Warn("Consumer queue full, payload skipped", "conn_id", cw.connID)
		}
	}

	r.metrics.Dispatched(result)
	r.metrics.DispatchDuration.Observe(r.clock.Since(start).Seconds())
	c.replyChannel <- result
}

// handleProbe queues a ping for every consumer whose connection is still open.
func (r *Relay) handleProbe() {
	probed := 0
	for _, cw := range r.consumers.snapshot() {
		if cw.probe() {
			probed++
		}
	}
	r.metrics.ProbesSent.Add(float64(probed))
	slog.Debug("Liveness probe cycle", "consumers", r.consumers.len(), "probed", probed)
}

func (r *Relay) handleStop() {
	count := r.consumers.len()
	r.closeAllClients(shutdownReason)
	slog.Info("Relay stopping", "consumers_closed", count)
}

// shuttingDown reports whether the relay has started closing its consumers.
func (r *Relay) shuttingDown() bool {
	return r.closing.Load()
}

func (r *Relay) closeAllClients(reason string) {
	r.closing.Store(true)
	for _, cw := range r.consumers.snapshot() {
		cw.stopGraceful(reason)
		r.consumers.remove(cw.connection)
	}
	r.metrics.RegisteredConsumers.Set(0)
}
