package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "inkchat"

// Metrics holds the pipeline and HTTP collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ingestions      *prometheus.CounterVec
	answers         *prometheus.CounterVec
	chunksIndexed   prometheus.Counter
	stageDuration   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Document ingestions by result.",
		}, []string{"result"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answer requests by outcome (answered, fallback, error).",
		}, []string{"outcome"}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector index.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.ingestions, m.answers, m.chunksIndexed,
		m.stageDuration, m.requestsTotal, m.requestDuration,
	)
	return m
}

// Ingestion records an ingestion result ("success" or "failure")
func (m *Metrics) Ingestion(result string, chunks int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(result).Inc()
	if chunks > 0 {
		m.chunksIndexed.Add(float64(chunks))
	}
}

// Answer records how an answer request ended
func (m *Metrics) Answer(outcome string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(outcome).Inc()
}

// Stage records the time elapsed since start for a pipeline stage
func (m *Metrics) Stage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Request records a served HTTP request
func (m *Metrics) Request(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
