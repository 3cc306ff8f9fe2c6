// Package metrics holds the Prometheus collectors for the network manager.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hubnet"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	connects        *prometheus.CounterVec
	connectDuration prometheus.Histogram
	arbitrations    *prometheus.CounterVec
	resets          *prometheus.CounterVec
	mode            *prometheus.GaugeVec
	listenerAlive   prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Mode state machine transitions.",
		}, []string{"from", "to"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_results_total",
			Help:      "Connect attempts by result kind.",
		}, []string{"result"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Wall time of connect attempts.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90},
		}),
		arbitrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitrations_total",
			Help:      "Arbiter decisions by active interface.",
		}, []string{"active"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Resets by source.",
		}, []string{"source"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "1 for the current mode, 0 otherwise.",
		}, []string{"mode"}),
		listenerAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reset_listener_alive",
			Help:      "1 when the reset-signal listener process was found.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.connects,
		m.connectDuration,
		m.arbitrations,
		m.resets,
		m.mode,
		m.listenerAlive,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition records a mode change and updates the mode gauge.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.mode.WithLabelValues(from).Set(0)
	m.mode.WithLabelValues(to).Set(1)
}

// ConnectResult records the outcome of one connect attempt.
func (m *Metrics) ConnectResult(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
	m.connectDuration.Observe(took.Seconds())
}

// Arbitration records an arbiter decision. active is empty when no
// interface is connected.
func (m *Metrics) Arbitration(active string) {
	if m == nil {
		return
	}
	if active == "" {
		active = "none"
	}
	m.arbitrations.WithLabelValues(active).Inc()
}

// Reset records a reset request.
func (m *Metrics) Reset(source string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(source).Inc()
}

// ListenerAlive sets the reset-listener gauge.
func (m *Metrics) ListenerAlive(alive bool) {
	if m == nil {
		return
	}
	if alive {
		m.listenerAlive.Set(1)
		return
	}
	m.listenerAlive.Set(0)
}
