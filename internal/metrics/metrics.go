// Package metrics provides the Prometheus collectors for transport traffic and
// unlock attempts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. All methods are safe on a nil *Metrics,
// which records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	unlocks  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// New creates the collectors under namespace (e.g. "grimoire").
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by transport, action and result.",
		}, []string{"transport", "action", "result"}),
		unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Master password unlock attempts, by result.",
		}, []string{"result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused because the handler limit was reached.",
		}, []string{"transport"}),
	}
	registry.MustRegister(m.requests, m.unlocks, m.rejected)
	return m
}

// Request counts one handled request.
func (m *Metrics) Request(transport, action, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(transport, action, result).Inc()
}

// UnlockAttempt counts one unlock attempt.
func (m *Metrics) UnlockAttempt(result string) {
	if m == nil {
		return
	}
	m.unlocks.WithLabelValues(result).Inc()
}

// ConnectionRejected counts one refused connection.
func (m *Metrics) ConnectionRejected(transport string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(transport).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
