package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CleanupMetrics tracks retention and emergency cleanup passes.
//
// Metrics:
//   - tally_analytics_cleanup_runs_total: Passes by mode and outcome
//   - tally_analytics_cleanup_duration_seconds: Pass duration by mode
//   - tally_analytics_cleanup_freed_megabytes_total: Storage reclaimed by mode
//   - tally_analytics_cleanup_deleted_records_total: Deleted records by category and mode
//   - tally_analytics_cleanup_errors_total: Failed category deletes
type CleanupMetrics struct {
	runsTotal    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	freedMB      *prometheus.CounterVec
	deletedTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
}

// NewCleanupMetrics creates and registers cleanup metrics with the provided registry.
func NewCleanupMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CleanupMetrics {
	cm := &CleanupMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cleanup_runs_total",
				Help:      "Total number of cleanup passes",
			},
			[]string{"mode", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cleanup_duration_seconds",
				Help:      "Duration of cleanup passes in seconds",
				Buckets:   cfg.CleanupDurationBuckets,
			},
			[]string{"mode"},
		),
		freedMB: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cleanup_freed_megabytes_total",
				Help:      "Storage reclaimed by cleanup passes in megabytes",
			},
			[]string{"mode"},
		),
		deletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cleanup_deleted_records_total",
				Help:      "Total number of records deleted by cleanup",
			},
			[]string{"category", "mode"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cleanup_errors_total",
				Help:      "Total number of failed category deletes during cleanup",
			},
			[]string{"category"},
		),
	}

	registry.MustRegister(
		cm.runsTotal,
		cm.duration,
		cm.freedMB,
		cm.deletedTotal,
		cm.errorsTotal,
	)

	return cm
}

// RecordRun records one pass.
func (cm *CleanupMetrics) RecordRun(mode, status string, duration time.Duration, freedMB float64) {
	cm.runsTotal.WithLabelValues(mode, status).Inc()
	cm.duration.WithLabelValues(mode).Observe(duration.Seconds())
	if freedMB > 0 {
		cm.freedMB.WithLabelValues(mode).Add(freedMB)
	}
}

// RecordDeleted adds n deleted records.
func (cm *CleanupMetrics) RecordDeleted(category, mode string, n int64) {
	cm.deletedTotal.WithLabelValues(category, mode).Add(float64(n))
}

// RecordError counts a failed category delete.
func (cm *CleanupMetrics) RecordError(category string) {
	cm.errorsTotal.WithLabelValues(category).Inc()
}
