package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CaptureMetrics holds the Prometheus metrics of the extraction pipeline.
type CaptureMetrics struct {
	// Recognizer metrics
	AttemptsTotal     *prometheus.CounterVec
	ExtractionSeconds *prometheus.HistogramVec

	// Queue metrics
	DocumentsSettledTotal *prometheus.CounterVec
	BackoffSeconds        *prometheus.HistogramVec
}

// NewCaptureMetrics creates and registers the metrics on reg.
func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	factory := promauto.With(reg)

	return &CaptureMetrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mr14_recognizer_attempts_total",
				Help: "Recognizer calls by model and outcome",
			},
			[]string{"model", "outcome", "kind"},
		),
		ExtractionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mr14_recognizer_latency_seconds",
				Help:    "Recognizer round-trip latency",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"model"},
		),
		DocumentsSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mr14_documents_settled_total",
				Help: "Documents that reached a terminal state",
			},
			[]string{"status", "kind"},
		),
		BackoffSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mr14_wait_seconds",
				Help:    "Deliberate waits between documents and attempts",
				Buckets: []float64{0.5, 1, 2, 3, 5, 10, 20},
			},
			[]string{"reason"},
		),
	}
}

// RecordAttempt counts one recognizer call.
func (m *CaptureMetrics) RecordAttempt(model, outcome, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(model, outcome, kind).Inc()
	m.ExtractionSeconds.WithLabelValues(model).Observe(seconds)
}

// RecordSettled counts a document reaching completed or error.
func (m *CaptureMetrics) RecordSettled(status, kind string) {
	if m == nil {
		return
	}
	m.DocumentsSettledTotal.WithLabelValues(status, kind).Inc()
}

// RecordWait observes a throttle or backoff pause.
func (m *CaptureMetrics) RecordWait(reason string, seconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(reason).Observe(seconds)
}
