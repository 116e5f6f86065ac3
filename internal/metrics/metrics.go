// Package metrics exposes Prometheus instrumentation for the worker and the
// pipeline. All helpers are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "riskpipe"

type Metrics struct {
	// Labels: outcome (complete, dead_lettered)
	TasksTotal *prometheus.CounterVec
	// Labels: reason (malformed, pipeline_error, panic)
	DLQTotal *prometheus.CounterVec
	// Labels: stage (mapping, cvss, epss, threat, analysis)
	DegradedTotal *prometheus.CounterVec
	// Labels: result (hit, miss, bypass, error)
	CacheLookups *prometheus.CounterVec
	// Labels: class (clean, warning, unusable)
	VerdictsTotal *prometheus.CounterVec
	// Labels: stage
	StageDuration *prometheus.HistogramVec
	// 1 while the cache circuit is open
	CacheBreakerOpen prometheus.Gauge
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Tasks popped from the queue by outcome",
		}, []string{"outcome"}),
		DLQTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "dlq_entries_total",
			Help:      "Entries pushed to the dead-letter queue by reason",
		}, []string{"reason"}),
		DegradedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "degraded_stages_total",
			Help:      "Stage calls replaced by their fallback",
		}, []string{"stage"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}),
		VerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "verdicts_total",
			Help:      "Analysis verdicts by hallucination-risk class",
		}, []string{"class"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each collaborator call",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		CacheBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "breaker_open",
			Help:      "1 when the cache circuit breaker is open",
		}),
	}
}

func (m *Metrics) TaskDone(outcome string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeadLettered(reason string) {
	if m == nil {
		return
	}
	m.DLQTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) StageDegraded(stage string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Verdict(class string) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CacheBreakerOpen.Set(1)
		return
	}
	m.CacheBreakerOpen.Set(0)
}
