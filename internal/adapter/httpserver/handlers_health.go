package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorrelay/internal/platform/version"
)

const readinessProbeTimeout = 2 * time.Second

const checkPassed = "ok"

// HealthCheck is one named readiness dependency, such as the relay loop.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type livenessResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, livenessResponse{
		Status:        "ok",
		UptimeSeconds: s.clock.Since(s.startTime).Seconds(),
	})
}

// handleReadiness runs every check under one shared deadline and reports each
// result. Any failure makes the whole relay unready.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	resp := readinessResponse{Status: "ready", Checks: make(map[string]string, len(s.healthChecks))}
	status := http.StatusOK

	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			slog.WarnContext(ctx, "Readiness check failed", "check", hc.Name, "error", err)
			continue
		}
		resp.Checks[hc.Name] = checkPassed
	}

	return c.JSON(status, resp)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
