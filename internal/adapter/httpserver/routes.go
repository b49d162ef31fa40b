package httpserver

import (
	"log/slog"
	"os"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// dashboardCSP lets the bundled dashboard run its inline script and open a
// WebSocket back to the relay, and nothing else.
const dashboardCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:; frame-ancestors 'none'"

func (s *Server) registerRoutes() {
	// Pre runs before routing, so a rewritten path still reaches the relay route.
	s.echo.Pre(upgradeAnywhere(websocketPath))

	s.echo.Use(
		requestLogger(),
		middleware.Recover(),
	)
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(
		ErrorHandlingMiddleware(),
		middleware.SecureWithConfig(middleware.SecureConfig{
			ContentTypeNosniff:    "nosniff",
			XFrameOptions:         "DENY",
			ContentSecurityPolicy: dashboardCSP,
			ReferrerPolicy:        "no-referrer",
		}),
	)

	s.echo.GET(websocketPath, s.websocketHandler)
	s.registerHealthRoutes()
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	throttle := assetRateLimiter(s.config.ConnectionRate, s.config.ConnectionBurst)
	s.echo.GET("/version", s.handleVersion, throttle)
	s.echo.GET("/*", echo.StaticDirectoryHandler(os.DirFS(s.config.StaticDir), false), throttle)
}

// upgradeAnywhere sends WebSocket upgrade requests on any path to wsPath, so
// devices configured with an arbitrary URL path still reach the relay.
func upgradeAnywhere(wsPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.URL.Path != wsPath && websocket.IsWebSocketUpgrade(req) {
				slog.Debug("Routing upgrade to relay", "path", req.URL.Path)
				req.URL.Path = wsPath
				req.URL.RawPath = ""
			}
			return next(c)
		}
	}
}

// requestLogger logs one line per plain HTTP request. Upgrades log their own
// lifecycle in the relay, so only the handshake outcome shows up here.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= 500 {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			slog.LogAttrs(c.Request().Context(), level, "Request", attrs...)
			return nil
		},
	})
}
