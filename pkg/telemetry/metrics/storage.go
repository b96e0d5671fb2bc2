package metrics

import (
	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics tracks the capacity of the analytics store.
//
// Metrics:
//   - tally_analytics_storage_used_megabytes: Total store size
//   - tally_analytics_storage_used_percent: Size relative to the budget
//   - tally_analytics_storage_budget_megabytes: Configured budget
//   - tally_analytics_category_records: Records per category
//   - tally_analytics_category_size_megabytes: Size per category
//   - tally_analytics_store_available: 1 when the store is connected
type StorageMetrics struct {
	usedMB      prometheus.Gauge
	usedPercent prometheus.Gauge
	budgetMB    prometheus.Gauge

	categoryRecords *prometheus.GaugeVec
	categorySizeMB  *prometheus.GaugeVec

	available prometheus.Gauge
}

// NewStorageMetrics creates and registers storage metrics with the provided registry.
func NewStorageMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StorageMetrics {
	sm := &StorageMetrics{
		usedMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "storage_used_megabytes",
			Help:      "Total size of the analytics store in megabytes",
		}),
		usedPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "storage_used_percent",
			Help:      "Analytics store size as a percentage of the storage budget",
		}),
		budgetMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "storage_budget_megabytes",
			Help:      "Configured storage budget in megabytes",
		}),
		categoryRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "category_records",
				Help:      "Number of records stored per category",
			},
			[]string{"category"},
		),
		categorySizeMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "category_size_megabytes",
				Help:      "Storage size per category in megabytes",
			},
			[]string{"category"},
		),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "store_available",
			Help:      "Whether the analytics store is connected (1) or not (0)",
		}),
	}

	registry.MustRegister(
		sm.usedMB,
		sm.usedPercent,
		sm.budgetMB,
		sm.categoryRecords,
		sm.categorySizeMB,
		sm.available,
	)

	return sm
}

// UpdateUsage sets the store totals.
func (sm *StorageMetrics) UpdateUsage(usedMB, usedPercent, budgetMB float64) {
	sm.usedMB.Set(usedMB)
	sm.usedPercent.Set(usedPercent)
	sm.budgetMB.Set(budgetMB)
}

// UpdateCategory sets the gauges of one category.
func (sm *StorageMetrics) UpdateCategory(category string, count int64, sizeMB float64) {
	sm.categoryRecords.WithLabelValues(category).Set(float64(count))
	sm.categorySizeMB.WithLabelValues(category).Set(sizeMB)
}

// UpdateAvailable sets the availability gauge.
func (sm *StorageMetrics) UpdateAvailable(available bool) {
	if available {
		sm.available.Set(1)
	} else {
		sm.available.Set(0)
	}
}
