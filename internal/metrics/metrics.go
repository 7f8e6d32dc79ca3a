// Package metrics exposes routing-engine counters on a private prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audioroute"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry     *prometheus.Registry
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	migrations   *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	fallbacks    prometheus.Counter
	heldBack     prometheus.Counter
	sessions     prometheus.Gauge
	underflows   prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_passes_total",
			Help:      "Routing passes by reason and result.",
		}, []string{"reason", "result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_pass_duration_seconds",
			Help:      "Time spent in a routing pass, including hardware calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_migrations_total",
			Help:      "Sessions moved off a shared backend by another session's route.",
		}, []string{"direction"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_transitions_total",
			Help:      "Hardware enable and disable edges per route.",
		}, []string{"route", "edge"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_fallbacks_total",
			Help:      "Resolutions that fell back because a route was unavailable.",
		}),
		heldBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "held_back_total",
			Help:      "Passes whose initiating session was downgraded to protect a migration.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Registered sessions.",
		}),
		underflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refcount_underflows_total",
			Help:      "Disables of routes holding no reference.",
		}),
	}
	m.registry.MustRegister(
		m.passes, m.passDuration, m.migrations, m.transitions,
		m.fallbacks, m.heldBack, m.sessions, m.underflows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Pass records a completed routing pass.
func (m *Metrics) Pass(reason, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(reason, result).Inc()
	m.passDuration.Observe(d.Seconds())
}

// Migration records a forced migration.
func (m *Metrics) Migration(input bool) {
	if m == nil {
		return
	}
	dir := "out"
	if input {
		dir = "in"
	}
	m.migrations.WithLabelValues(dir).Inc()
}

// Transition records a hardware edge on route.
func (m *Metrics) Transition(route string, enabled bool) {
	if m == nil {
		return
	}
	edge := "disable"
	if enabled {
		edge = "enable"
	}
	m.transitions.WithLabelValues(route, edge).Inc()
}

// Fallback records a resolution that fell back.
func (m *Metrics) Fallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

// HeldBack records a held-back initiator.
func (m *Metrics) HeldBack() {
	if m != nil {
		m.heldBack.Inc()
	}
}

// Underflow records a refcount underflow.
func (m *Metrics) Underflow() {
	if m != nil {
		m.underflows.Inc()
	}
}

// SetSessions sets the active session gauge.
func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}
