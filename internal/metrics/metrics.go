// Package metrics holds the proxy's Prometheus collectors. All Record methods
// are safe to call on a nil *Metrics, which keeps tests free of registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "conduit"

// Metrics contains every collector the proxy exports.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	TotalConnections  prometheus.Counter
	AdmissionDenied   *prometheus.CounterVec
	OnlinePlayers     prometheus.Gauge

	PacketsIn  *prometheus.CounterVec
	PacketsOut *prometheus.CounterVec
	BytesIn    prometheus.Counter
	BytesOut   prometheus.Counter

	Logins       *prometheus.CounterVec
	AuthDuration prometheus.Histogram

	ConnectionDuration prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
}

// New creates the collectors on a private registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open client connections",
		}),
		TotalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of admitted client connections",
		}),
		AdmissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_denied_total",
			Help:      "Connection attempts closed by the admission gate",
		}, []string{"reason"}),
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Players in the play state",
		}),
		PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Decoded inbound packets by protocol state",
		}, []string{"state"}),
		PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Encoded outbound packets by protocol state",
		}, []string{"state"}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from client sockets",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Raw bytes written to client sockets",
		}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome",
		}, []string{"result"}),
		AuthDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_duration_seconds",
			Help:      "Latency of identity service calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of client connections",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Connection-closing errors by type",
		}, []string{"error_type"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveConnections,
		m.TotalConnections,
		m.AdmissionDenied,
		m.OnlinePlayers,
		m.PacketsIn,
		m.PacketsOut,
		m.BytesIn,
		m.BytesOut,
		m.Logins,
		m.AuthDuration,
		m.ConnectionDuration,
		m.ErrorsTotal,
	)

	return m
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnection records a newly admitted connection.
func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.TotalConnections.Inc()
	m.ActiveConnections.Inc()
}

// RecordDisconnection records a closed connection and its lifetime.
func (m *Metrics) RecordDisconnection(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) RecordDenied(reason string) {
	if m == nil {
		return
	}
	m.AdmissionDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPacketIn(state string) {
	if m == nil {
		return
	}
	m.PacketsIn.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordPacketOut(state string) {
	if m == nil {
		return
	}
	m.PacketsOut.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordBytesIn(n int) {
	if m == nil {
		return
	}
	m.BytesIn.Add(float64(n))
}

func (m *Metrics) RecordBytesOut(n int) {
	if m == nil {
		return
	}
	m.BytesOut.Add(float64(n))
}

// RecordLogin counts a login outcome ("success", "denied", "auth_failure", ...).
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAuthDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.AuthDuration.Observe(d.Seconds())
}

// RecordError counts a connection-closing error.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) SetOnlinePlayers(n int) {
	if m == nil {
		return
	}
	m.OnlinePlayers.Set(float64(n))
}
