// Package metrics exposes the engine's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bedengine"

type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	placements  prometheus.Counter
	conflicts   *prometheus.CounterVec
	overdue     prometheus.Gauge
	duration    *prometheus.HistogramVec
	dropped     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bed_transitions_total",
			Help:      "Committed bed status transitions.",
		}, []string{"from", "to"}),
		placements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_placements_total",
			Help:      "Waitlist entries placed into a bed.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Operations rejected by the optimistic concurrency guard.",
		}, []string{"op"}),
		overdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maintenance_overdue",
			Help:      "Maintenance schedules overdue at the last scan.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_dropped_total",
			Help:      "Audit events or notices dropped because a dispatcher queue was full.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.transitions, m.placements, m.conflicts, m.overdue, m.duration, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BedTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Placement() {
	if m == nil {
		return
	}
	m.placements.Inc()
}

func (m *Metrics) Conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.overdue.Set(float64(n))
}

func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

// ObserveSince records the time elapsed since start under op. Use as
// defer m.ObserveSince("assign", time.Now()).
func (m *Metrics) ObserveSince(op string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
