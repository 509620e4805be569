package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Ingestion("success", 3)
		m.Answer("fallback")
		m.Stage("embed", time.Now())
		m.Request("GET", "/health", "200", time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Ingestion("success", 12)
	m.Ingestion("failure", 0)
	m.Answer("fallback")
	m.Answer("fallback")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("failure")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.chunksIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.answers.WithLabelValues("fallback")))
}

func TestStageHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Stage("search", time.Now().Add(-50*time.Millisecond))

	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}
