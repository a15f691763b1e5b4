package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records dispatcher publish outcomes per event name.
type OutboxMetrics struct {
	duration  *prometheus.HistogramVec
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	released  prometheus.Counter
	stateErrs *prometheus.CounterVec
}

// NewOutboxMetrics registers the dispatcher metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Time spent appending one outbox message to the broker.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_name"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox messages appended to the broker.",
	}, []string{"event_name"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failed_total",
		Help: "Outbox publish attempts that returned the message to pending.",
	}, []string{"event_name"})
	released := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_leases_released_total",
		Help: "Processing leases returned to pending after timing out.",
	})
	stateErrs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_state_write_failed_total",
		Help: "Outbox rows whose published or pending state could not be recorded.",
	}, []string{"event_name"})
	reg.MustRegister(duration, published, failed, released, stateErrs)
	return &OutboxMetrics{
		duration:  duration,
		published: published,
		failed:    failed,
		released:  released,
		stateErrs: stateErrs,
	}
}

func (m *OutboxMetrics) ObservePublish(eventName string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventName)).Observe(d.Seconds())
}

func (m *OutboxMetrics) IncPublished(eventName string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventName)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventName string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventName)).Inc()
}

func (m *OutboxMetrics) IncStateWriteFailed(eventName string) {
	if m == nil || m.stateErrs == nil {
		return
	}
	m.stateErrs.WithLabelValues(normalizeLabel(eventName)).Inc()
}

func (m *OutboxMetrics) AddReleased(n int64) {
	if m == nil || m.released == nil || n <= 0 {
		return
	}
	m.released.Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
