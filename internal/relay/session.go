package relay

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/sensorrelay/internal/domain"
	"github.com/pscheid92/sensorrelay/internal/platform/logging"
	"golang.org/x/time/rate"
)

// Session tracks one connection from open to close and decides its role. A
// connection whose first message is the ready token becomes a consumer; any
// other first message makes it a producer and is relayed. A role declared at
// open time skips sniffing.
//
// Session methods are called from the connection's read goroutine only.
type Session struct {
	ctx     context.Context
	conn    *websocket.Conn
	relay   *Relay
	role    domain.Role
	limiter *rate.Limiter
	closed  bool
}

// OpenSession starts tracking conn. ctx should carry the connection ID; origin
// is added to it so every record logged for the session names the peer.
func (r *Relay) OpenSession(ctx context.Context, conn *websocket.Conn, origin string, declared domain.Role) *Session {
	s := &Session{
		ctx:   logging.WithOrigin(ctx, origin),
		conn:  conn,
		relay: r,
		role:  domain.RoleUnclassified,
	}

	r.metrics.ConnectionOpened(domain.RoleUnclassified)
	slog.InfoContext(s.ctx, "Client connected", "declared_role", declared.String())

	switch declared {
	case domain.RoleConsumer:
		s.becomeConsumer()
	case domain.RoleProducer:
		s.becomeProducer()
	}
	return s
}

// Role returns the current classification.
func (s *Session) Role() domain.Role {
	return s.role
}

// HandleMessage processes one inbound data message.
func (s *Session) HandleMessage(data []byte) {
	switch s.role {
	case domain.RoleUnclassified:
		if string(data) == s.relay.opts.ReadyToken {
			s.becomeConsumer()
			return
		}
		s.becomeProducer()
		s.relayPayload(data)
	case domain.RoleConsumer:
		s.extendReadDeadline()
		slog.DebugContext(s.ctx, "Ignoring message from consumer", "bytes", len(data))
	case domain.RoleProducer:
		s.relayPayload(data)
	}
}

// HandlePong marks a consumer as alive. It is installed as the connection's pong handler.
func (s *Session) HandlePong(string) error {
	if s.role == domain.RoleConsumer {
		s.extendReadDeadline()
	}
	return nil
}

// Close ends the session. cause is the error that ended the read loop, if any.
// Consumers are removed from the registry before Close returns.
func (s *Session) Close(cause error) {
	if s.closed {
		return
	}
	s.closed = true

	// Reads fail on their own once the relay has closed the socket at shutdown.
	shutdown := s.relay.shuttingDown()
	if cause != nil && !isNormalClose(cause) && !shutdown {
		s.relay.metrics.TransportErrors.Inc()
		slog.WarnContext(s.ctx, "WebSocket error", "role", s.role.String(), "error", cause)
	}

	switch s.role {
	case domain.RoleConsumer:
		remaining, err := s.relay.Unregister(context.WithoutCancel(s.ctx), s.conn)
		switch {
		case errors.Is(err, domain.ErrRelayStopped):
			slog.DebugContext(s.ctx, "Dashboard closed by relay shutdown")
		case err != nil:
			slog.ErrorContext(s.ctx, "Failed to unregister consumer", "error", err)
			_ = s.conn.Close()
		default:
			slog.InfoContext(s.ctx, "Dashboard disconnected", "remaining_dashboards", remaining)
		}
	case domain.RoleProducer:
		slog.InfoContext(s.ctx, "Producer disconnected")
	default:
		slog.InfoContext(s.ctx, "Client disconnected before identifying")
	}

	s.relay.metrics.ConnectionClosed(s.role)
}

func (s *Session) becomeConsumer() {
	s.setRole(domain.RoleConsumer)

	consumers, err := s.relay.Register(s.ctx, s.conn)
	if err != nil {
		slog.ErrorContext(s.ctx, "Failed to register consumer", "error", err)
		_ = s.conn.Close()
		return
	}
	s.extendReadDeadline()
	slog.InfoContext(s.ctx, "Dashboard registered", "dashboards", consumers)
}

func (s *Session) becomeProducer() {
	s.setRole(domain.RoleProducer)

	if r := s.relay.opts.ProducerMessageRate; r > 0 {
		burst := int(math.Max(1, math.Ceil(r)))
		s.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
	slog.InfoContext(s.ctx, "Producer connected")
}

func (s *Session) setRole(role domain.Role) {
	if s.role == role {
		return
	}
	s.relay.metrics.RoleChanged(s.role, role)
	s.role = role
}

func (s *Session) relayPayload(data []byte) {
	if s.limiter != nil && !s.limiter.AllowN(s.relay.clock.Now(), 1) {
		s.relay.metrics.PayloadHandled(domain.PayloadRateLimited)
		slog.WarnContext(s.ctx, "Producer rate limit exceeded, message dropped")
		return
	}

	slog.DebugContext(s.ctx, "Data from producer", "preview", preview(data))

	result, err := s.relay.Dispatch(s.ctx, data)
	switch {
	case errors.Is(err, domain.ErrMalformedPayload):
		s.relay.metrics.PayloadHandled(domain.PayloadMalformed)
		slog.WarnContext(s.ctx, "Invalid JSON from producer", "error", err, "preview", preview(data))
	case errors.Is(err, domain.ErrRelayStopped):
		s.relay.metrics.PayloadHandled(domain.PayloadRelayStopped)
		slog.WarnContext(s.ctx, "Relay stopped, message dropped")
	case err != nil:
		slog.ErrorContext(s.ctx, "Dispatch failed", "error", err)
	case result.NoConsumers():
		s.relay.metrics.PayloadHandled(domain.PayloadNoConsumers)
		slog.InfoContext(s.ctx, "No dashboards connected")
	case result.Delivered == 0:
		s.relay.metrics.PayloadHandled(domain.PayloadUndelivered)
		slog.WarnContext(s.ctx, "Payload reached no dashboard",
			"dashboards", result.Consumers,
			"skipped_closed", result.SkippedClosed,
			"skipped_full", result.SkippedFull,
		)
	default:
		s.relay.metrics.PayloadHandled(domain.PayloadRelayed)
		slog.InfoContext(s.ctx, "Sent to dashboards", "delivered", result.Delivered, "dashboards", result.Consumers)
	}
}

func (s *Session) extendReadDeadline() {
	_ = s.conn.SetReadDeadline(s.relay.clock.Now().Add(s.relay.opts.PongTimeout))
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
