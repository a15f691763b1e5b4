package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MaintenanceMetrics covers the cron worker: per-job outcomes, rows removed by
// retention and cycles skipped because another replica held the lease.
type MaintenanceMetrics struct {
	duration    *prometheus.HistogramVec
	success     *prometheus.CounterVec
	failure     *prometheus.CounterVec
	removed     *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

var maintenanceBuckets = []float64{0.05, 0.25, 1, 5, 15, 60, 300}

func NewMaintenanceMetrics(reg prometheus.Registerer) *MaintenanceMetrics {
	if reg == nil {
		return nil
	}
	byJob := []string{"job"}
	m := &MaintenanceMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maintenance_job_duration_seconds",
			Help:    "Wall time of one maintenance job run.",
			Buckets: maintenanceBuckets,
		}, byJob),
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_job_success_total",
			Help: "Maintenance job runs that returned no error.",
		}, byJob),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_job_failure_total",
			Help: "Maintenance job runs that returned an error.",
		}, byJob),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_rows_removed_total",
			Help: "Rows or stream entries deleted by retention jobs.",
		}, byJob),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maintenance_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, byJob),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maintenance_cycles_skipped_total",
			Help: "Cycles skipped because the maintenance lease was held elsewhere.",
		}),
	}
	reg.MustRegister(m.duration, m.success, m.failure, m.removed, m.lastSuccess, m.skipped)
	return m
}

// ObserveJob records one finished run. finished stamps the success gauge.
func (m *MaintenanceMetrics) ObserveJob(job string, elapsed time.Duration, finished time.Time, err error) {
	if m == nil {
		return
	}
	label := normalizeLabel(job)
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	if err != nil {
		m.failure.WithLabelValues(label).Inc()
		return
	}
	m.success.WithLabelValues(label).Inc()
	m.lastSuccess.WithLabelValues(label).Set(float64(finished.Unix()))
}

func (m *MaintenanceMetrics) AddRemoved(job string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.removed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func (m *MaintenanceMetrics) SkipCycle() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}
