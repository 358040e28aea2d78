// Package metrics exposes prometheus counters for processing runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeReauth  = "needs_reauth"
	OutcomeSkipped = "skipped"

	MessageLabeled = "labeled"
	MessageReview  = "review"
	MessageError   = "error"
	MessageSkipped = "skipped"

	LLMAnswered = "answered"
	LLMDeclined = "declined"
	LLMFailed   = "failed"
)

// Recorder tracks pipeline metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	messages    *prometheus.CounterVec
	llmCalls    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailsort",
			Name:      "runs_total",
			Help:      "Processing runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailsort",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of processing runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailsort",
			Name:      "messages_total",
			Help:      "Messages handled by outcome",
		}, []string{"outcome"}),
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailsort",
			Name:      "llm_calls_total",
			Help:      "LLM classification calls by outcome",
		}, []string{"outcome"}),
	}
}

// RunFinished records one run.
func (r *Recorder) RunFinished(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(d.Seconds())
}

// Message records the outcome of one message.
func (r *Recorder) Message(outcome string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(outcome).Inc()
}

// LLMCall records one call to the LLM classifier.
func (r *Recorder) LLMCall(outcome string) {
	if r == nil {
		return
	}
	r.llmCalls.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry, or nil for a nil Recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the metrics in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
