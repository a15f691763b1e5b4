package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestOutboxMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.ObservePublish("session.connected", 20*time.Millisecond)
	m.IncPublished("session.connected")
	m.IncFailed("session.connected")
	m.IncFailed("")
	m.AddReleased(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "outbox_published_total", "event_name", "session.connected"); err != nil || got != 1 {
		t.Fatalf("expected published=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_publish_failed_total", "event_name", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unknown failure=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "outbox_publish_duration_seconds", "event_name", "session.connected"); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", got, err)
	}
	released := findMetricFamily(mfs, "outbox_leases_released_total")
	if released == nil || released.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("expected released=3")
	}
}

func TestConsumerMetricsLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConsumerMetrics(reg, "event-consumer")
	m.Observe("session.created", OutcomeProcessed, 5*time.Millisecond)
	m.Observe("session.created", OutcomeRetry, 0)
	m.Observe("session.created", OutcomeRetry, 0)
	m.IncFailure("session.created")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "stream_entries_total", "outcome", OutcomeRetry); err != nil || got != 2 {
		t.Fatalf("expected retry=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "stream_handler_failures_total", "consumer", "event-consumer"); err != nil || got != 1 {
		t.Fatalf("expected failures=1, got %f (%v)", got, err)
	}
}

func TestMaintenanceMetricsTracksOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMaintenanceMetrics(reg)
	finished := time.Unix(1_700_000_000, 0)
	m.ObserveJob("outbox-retention", 15*time.Millisecond, finished, nil)
	m.ObserveJob("stream-trim", 5*time.Millisecond, finished, fmt.Errorf("xtrim: boom"))
	m.AddRemoved("outbox-retention", 12)
	m.AddRemoved("outbox-retention", 0)
	m.SkipCycle()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_job_success_total", "job", "outbox-retention"); err != nil || got != 1 {
		t.Fatalf("expected success=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_job_failure_total", "job", "stream-trim"); err != nil || got != 1 {
		t.Fatalf("expected failure=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_rows_removed_total", "job", "outbox-retention"); err != nil || got != 12 {
		t.Fatalf("expected removed=12, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "maintenance_job_duration_seconds", "job", "stream-trim"); err != nil || got <= 0 {
		t.Fatalf("expected failed runs to be timed too, got %f (%v)", got, err)
	}
	gauge := findMetricFamily(mfs, "maintenance_job_last_success_timestamp_seconds")
	if gauge == nil || len(gauge.GetMetric()) != 1 {
		t.Fatalf("expected one last-success series, got %v", gauge)
	}
	if got := gauge.GetMetric()[0].GetGauge().GetValue(); got != float64(finished.Unix()) {
		t.Fatalf("expected last success %d, got %f", finished.Unix(), got)
	}
	if skipped := findMetricFamily(mfs, "maintenance_cycles_skipped_total"); skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one skipped cycle, got %v", skipped)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var o *OutboxMetrics
	o.IncPublished("x")
	o.ObservePublish("x", time.Second)
	o.IncStateWriteFailed("x")
	NewOutboxMetrics(nil).IncStateWriteFailed("x")
	var c *ConsumerMetrics
	c.Observe("x", OutcomeProcessed, time.Second)
	NewConsumerMetrics(nil, "c").IncFailure("x")
	var m *MaintenanceMetrics
	m.ObserveJob("x", time.Second, time.Now(), nil)
	NewMaintenanceMetrics(nil).SkipCycle()
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewOutboxMetrics(reg).IncPublished("session.deleted")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `outbox_published_total{event_name="session.deleted"} 1`) {
		t.Fatalf("expected published series in output:\n%s", rec.Body.String())
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
