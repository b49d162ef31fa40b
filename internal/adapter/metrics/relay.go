package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorrelay/internal/domain"
)

// RelayMetrics holds Prometheus metrics for connections, payloads and fan-out.
type RelayMetrics struct {
	Connections         *prometheus.GaugeVec
	RegisteredConsumers prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	Payloads            *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	ProbesSent          prometheus.Counter
	WriteFailures       prometheus.Counter
	TransportErrors     prometheus.Counter
	Panics              prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Number of open WebSocket connections, by role.",
		}, []string{"role"}),
		RegisteredConsumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "registered_consumers",
			Help:      "Number of consumers currently in the broadcast registry.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of upgrade requests rejected before the handshake, by reason.",
		}, []string{"reason"}),
		Payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "payloads_total",
			Help:      "Total number of producer messages, by result.",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total number of per-consumer delivery attempts, by outcome.",
		}, []string{"outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent fanning one payload out to the registry snapshot.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "probes_sent_total",
			Help:      "Total number of liveness probes queued for consumers.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "write_failures_total",
			Help:      "Total number of failed writes to consumer connections.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "transport_errors_total",
			Help:      "Total number of connections that ended with an abnormal transport error.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "panics_total",
			Help:      "Total number of panics recovered in the relay loop.",
		}),
	}

	reg.MustRegister(
		m.Connections,
		m.RegisteredConsumers,
		m.ConnectionsRejected,
		m.Payloads,
		m.Deliveries,
		m.DispatchDuration,
		m.ProbesSent,
		m.WriteFailures,
		m.TransportErrors,
		m.Panics,
	)
	return m
}

// ConnectionOpened records a new connection in its initial role.
func (m *RelayMetrics) ConnectionOpened(role domain.Role) {
	m.Connections.WithLabelValues(role.String()).Inc()
}

// ConnectionClosed removes a connection from its final role.
func (m *RelayMetrics) ConnectionClosed(role domain.Role) {
	m.Connections.WithLabelValues(role.String()).Dec()
}

// RoleChanged moves a connection from one role gauge to another.
func (m *RelayMetrics) RoleChanged(from, to domain.Role) {
	m.Connections.WithLabelValues(from.String()).Dec()
	m.Connections.WithLabelValues(to.String()).Inc()
}

func (m *RelayMetrics) PayloadHandled(result domain.PayloadResult) {
	m.Payloads.WithLabelValues(string(result)).Inc()
}

// Dispatched records the per-consumer outcomes of one fan-out.
func (m *RelayMetrics) Dispatched(r domain.DispatchResult) {
	if r.Delivered > 0 {
		m.Deliveries.WithLabelValues(string(domain.DeliverySent)).Add(float64(r.Delivered))
	}
	if r.SkippedClosed > 0 {
		m.Deliveries.WithLabelValues(string(domain.DeliverySkippedClosed)).Add(float64(r.SkippedClosed))
	}
	if r.SkippedFull > 0 {
		m.Deliveries.WithLabelValues(string(domain.DeliverySkippedFull)).Add(float64(r.SkippedFull))
	}
}
