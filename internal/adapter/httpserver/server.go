package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorrelay/internal/adapter/metrics"
	"github.com/pscheid92/sensorrelay/internal/platform/config"
)

const (
	websocketPath     = "/ws"
	readHeaderTimeout = 10 * time.Second
)

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	websocketHandler echo.HandlerFunc
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the relay's HTTP surface: the WebSocket endpoint (also reachable
// through an upgrade on any path), health and version probes, Prometheus metrics
// and the static dashboard files.
func NewServer(cfg *config.Config, clock clockwork.Clock, websocketHandler echo.HandlerFunc, metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// No read or write timeout: upgraded connections manage their own deadlines.
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	srv := &Server{
		echo:             e,
		config:           cfg,
		clock:            clock,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured port and blocks until the server stops.
// After Shutdown it returns an error wrapping http.ErrServerClosed.
func (s *Server) Start() error {
	addr := ":" + s.config.Port
	slog.Info("HTTP listener starting", "addr", addr, "static_dir", s.config.StaticDir, "ws_path", websocketPath)
	if err := s.echo.Start(addr); err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// WebSocket connections are not tracked here; stop the relay first.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
