package metrics

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

// HTTPMetrics records plain HTTP traffic: static assets, version and errors.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlightGauge   prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP metrics on the given registry.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	labels := []string{"method", "route", "status_code"}
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests served outside the WebSocket relay.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, labels),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served outside the WebSocket relay.",
		}, labels),
		InFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlightGauge)
	return m
}

// skipRoute reports routes that would distort request metrics: scrapes, probes
// and the WebSocket route whose "request" lasts as long as the connection.
func skipRoute(route string) bool {
	return route == "/metrics" || route == "/ws" || strings.HasPrefix(route, "/health/")
}

// Middleware records request count and latency per route template.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if skipRoute(route) {
				return next(c)
			}
			if route == "" {
				route = unmatchedRoute
			}

			m.InFlightGauge.Inc()
			defer m.InFlightGauge.Dec()
			timer := prometheus.NewTimer(nil)

			err := next(c)

			status := statusOf(c, err)
			method := c.Request().Method
			m.RequestDuration.WithLabelValues(method, route, status).Observe(timer.ObserveDuration().Seconds())
			m.RequestsTotal.WithLabelValues(method, route, status).Inc()
			return err
		}
	}
}

// statusOf returns the status the client will see. Echo HTTPErrors are rendered
// after this middleware returns, so their code is taken from the error.
func statusOf(c echo.Context, err error) string {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && !c.Response().Committed {
		return strconv.Itoa(httpErr.Code)
	}
	return strconv.Itoa(c.Response().Status)
}
