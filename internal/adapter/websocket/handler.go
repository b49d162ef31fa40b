package websocket

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/domain"
	apperrors "github.com/pscheid92/sensorrelay/internal/platform/errors"
	"github.com/pscheid92/sensorrelay/internal/platform/logging"
	"github.com/pscheid92/sensorrelay/internal/relay"
)

// HandlerConfig holds the upgrade-time settings.
type HandlerConfig struct {
	AllowedOrigins []string
	MaxMessageSize int64
	Development    bool // also allow localhost browser origins
}

// Handler upgrades HTTP requests to WebSocket connections and runs each
// connection's read loop through a relay session.
type Handler struct {
	relay          *relay.Relay
	limits         *ConnectionLimits
	metrics        *metrics.RelayMetrics
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

func NewHandler(r *relay.Relay, limits *ConnectionLimits, m *metrics.RelayMetrics, cfg HandlerConfig) *Handler {
	return &Handler{
		relay:   r,
		limits:  limits,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AllowedOrigins, cfg.Development),
		},
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// Handle serves one connection. It blocks until the peer disconnects.
func (h *Handler) Handle(c echo.Context) error {
	req := c.Request()
	remote := RemoteLabel(req)

	declared, err := domain.ParseRole(c.QueryParam("role"))
	if err != nil {
		h.metrics.ConnectionsRejected.WithLabelValues("invalid_role").Inc()
		return apperrors.ValidationError("role must be producer or consumer").WithField("role", c.QueryParam("role"))
	}

	if ok, reason := h.limits.Acquire(remote); !ok {
		h.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		if reason == LimitReasonRate {
			return apperrors.RateLimitedError("too many new connections").WithField("origin", remote)
		}
		return apperrors.UnavailableError("connection limit reached").
			WithField("origin", remote).
			WithField("reason", string(reason))
	}
	defer h.limits.Release(remote)

	conn, err := h.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.metrics.ConnectionsRejected.WithLabelValues("handshake").Inc()
		slog.Warn("WebSocket upgrade failed", "origin", remote, "error", err)
		return nil
	}
	defer conn.Close()

	ctx := logging.WithConnID(context.WithoutCancel(req.Context()), uuid.NewString())
	conn.SetReadLimit(h.maxMessageSize)

	session := h.relay.OpenSession(ctx, conn, remote, declared)
	conn.SetPongHandler(session.HandlePong)

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
	return nil
}
