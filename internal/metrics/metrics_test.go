package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskDone("complete")
	m.TaskDone("complete")
	m.DeadLettered("malformed")
	m.StageDegraded("epss")
	m.CacheLookup("hit")
	m.Verdict("warning")
	m.ObserveStage("mapping", 120*time.Millisecond)
	m.SetBreakerOpen(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DLQTotal.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedTotal.WithLabelValues("epss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheBreakerOpen))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))

	m.SetBreakerOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheBreakerOpen))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TaskDone("complete")
		m.DeadLettered("panic")
		m.StageDegraded("threat")
		m.CacheLookup("miss")
		m.Verdict("clean")
		m.ObserveStage("cvss", time.Second)
		m.SetBreakerOpen(true)
	})
}
