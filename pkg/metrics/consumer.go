package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for a consumed stream entry.
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeMalformed    = "malformed"
	OutcomeUnhandled    = "unhandled"
	OutcomeBackoff      = "backoff"
	OutcomeRetry        = "retry"
	OutcomeDeadLettered = "dead_lettered"
)

// ConsumerMetrics records per-entry outcomes for the stream consumers.
type ConsumerMetrics struct {
	consumer string
	entries  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewConsumerMetrics registers the consumer metrics. consumer labels every
// series, e.g. "event-consumer" or "session-worker".
func NewConsumerMetrics(reg prometheus.Registerer, consumer string) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{consumer: normalizeLabel(consumer)}
	}
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_entries_total",
		Help: "Stream entries handled, by outcome.",
	}, []string{"consumer", "name", "outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_handler_failures_total",
		Help: "Handler invocations that returned an error.",
	}, []string{"consumer", "name"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_entry_duration_seconds",
		Help:    "Time spent handling one stream entry.",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer", "name"})
	reg.MustRegister(entries, failures, duration)
	return &ConsumerMetrics{
		consumer: normalizeLabel(consumer),
		entries:  entries,
		failures: failures,
		duration: duration,
	}
}

// Observe records one handled entry. name is the event name or command type.
func (m *ConsumerMetrics) Observe(name, outcome string, d time.Duration) {
	if m == nil || m.entries == nil {
		return
	}
	name = normalizeLabel(name)
	m.entries.WithLabelValues(m.consumer, name, normalizeLabel(outcome)).Inc()
	if d > 0 {
		m.duration.WithLabelValues(m.consumer, name).Observe(d.Seconds())
	}
}

func (m *ConsumerMetrics) IncFailure(name string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(m.consumer, normalizeLabel(name)).Inc()
}
