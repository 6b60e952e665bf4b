// Package metrics exposes the PAM query core's Prometheus surface: active
// tunnel count, pooled connection count, and query outcomes.
//
// Grounded on netbuddy-agents-admin's promauto-based Metrics structs
// (internal/nodemanager/metrics_prometheus.go,
// internal/apiserver/server/metrics.go) — namespaced gauges/counters built
// once at construction and mutated by Set/Inc calls. Unlike the teacher's
// pack-mate, each Metrics owns its own registry rather than the global
// one, so a process (or test binary) can construct more than one without
// a duplicate-registration panic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pam"

// Metrics holds the core's Prometheus instruments.
type Metrics struct {
	registry          *prometheus.Registry
	ActiveTunnels     prometheus.Gauge
	PooledConnections prometheus.Gauge
	QueriesTotal      *prometheus.CounterVec
}

// New registers and returns a fresh set of the core's metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ActiveTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tunnels",
			Help:      "Number of currently registered nested-TLS tunnel handles.",
		}),
		PooledConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pooled_connections",
			Help:      "Number of live direct database connections held in the pool.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total executed queries by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.ActiveTunnels, m.PooledConnections, m.QueriesTotal)
	return m
}

// Outcome labels for QueriesTotal.
const (
	OutcomeSuccess    = "success"
	OutcomeBadRequest = "bad_request"
	OutcomeError      = "error"
)

// RecordQuery increments QueriesTotal for the given outcome.
func (m *Metrics) RecordQuery(outcome string) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

// SetActiveTunnels sets the active tunnel gauge to count.
func (m *Metrics) SetActiveTunnels(count int) {
	m.ActiveTunnels.Set(float64(count))
}

// SetPooledConnections sets the pooled connection gauge to count.
func (m *Metrics) SetPooledConnections(count int) {
	m.PooledConnections.Set(float64(count))
}

// Handler returns the HTTP handler that serves this Metrics' registry in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
