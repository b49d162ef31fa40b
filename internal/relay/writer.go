package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/domain"
)

// clientWriter owns all data writes to one consumer connection. Payloads and
// probes are queued without blocking; the run goroutine performs the writes.
type clientWriter struct {
	connection   *websocket.Conn
	connID       string
	clock        clockwork.Clock
	metrics      *metrics.RelayMetrics
	writeTimeout time.Duration
	sendChannel  chan []byte
	pingChannel  chan struct{}
	doneChannel  chan struct{}
	open         atomic.Bool
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn, connID string, clock clockwork.Clock, m *metrics.RelayMetrics, opts Options) *clientWriter {
	cw := &clientWriter{
		connection:   connection,
		connID:       connID,
		clock:        clock,
		metrics:      m,
		writeTimeout: opts.WriteTimeout,
		sendChannel:  make(chan []byte, opts.SendBufferSize),
		pingChannel:  make(chan struct{}, 1),
		doneChannel:  make(chan struct{}),
	}
	cw.open.Store(true)
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.fail("payload", err)
				return
			}
		case <-cw.pingChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				cw.fail("ping", err)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue offers data to the consumer without blocking.
func (cw *clientWriter) enqueue(data []byte) domain.DeliveryOutcome {
	if !cw.open.Load() {
		return domain.DeliverySkippedClosed
	}
	select {
	case cw.sendChannel <- data:
		return domain.DeliverySent
	default:
		return domain.DeliverySkippedFull
	}
}

// probe queues a ping. It reports false when the connection is closed or a
// ping is already pending.
func (cw *clientWriter) probe() bool {
	if !cw.open.Load() {
		return false
	}
	select {
	case cw.pingChannel <- struct{}{}:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) isOpen() bool {
	return cw.open.Load()
}

// fail marks the writer closed and closes the socket so the reader side runs the
// ordinary close path and unregisters the consumer.
func (cw *clientWriter) fail(kind string, err error) {
	cw.open.Store(false)
	cw.metrics.WriteFailures.Inc()
	slog.Debug("Consumer write failed", "conn_id", cw.connID, "kind", kind, "error", err)
	_ = cw.connection.Close()
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		cw.open.Store(false)
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		cw.open.Store(false)
		close(cw.doneChannel)

		// The run goroutine must be gone before we write the close frame.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(cw.writeTimeout))
}
