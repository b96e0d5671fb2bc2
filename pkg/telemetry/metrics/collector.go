package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric exported by tally. It is safe to
// call any method on a nil *Collector; the call is a no-op. Library users
// that do not want metrics can pass nil wherever a collector is accepted.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	storageMetrics *StorageMetrics
	cleanupMetrics *CleanupMetrics
	ingestMetrics  *IngestMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a private registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Namespace: "tally", Subsystem: "analytics"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.CleanupDurationBuckets) == 0 {
		cfg.CleanupDurationBuckets = append([]float64(nil), config.DefaultCleanupDurationBuckets...)
	}

	return &Collector{
		config:         cfg,
		registry:       registry,
		storageMetrics: NewStorageMetrics(cfg, registry),
		cleanupMetrics: NewCleanupMetrics(cfg, registry),
		ingestMetrics:  NewIngestMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && config.BoolValue(c.config.Enabled, config.DefaultMetricsEnabled)
}

// UpdateStorageUsage records the latest capacity report totals.
func (c *Collector) UpdateStorageUsage(usedMB, usedPercent, budgetMB float64) {
	if !c.enabled() {
		return
	}
	c.storageMetrics.UpdateUsage(usedMB, usedPercent, budgetMB)
}

// UpdateCategoryStats records the record count and size of one category.
func (c *Collector) UpdateCategoryStats(category string, count int64, sizeMB float64) {
	if !c.enabled() {
		return
	}
	c.storageMetrics.UpdateCategory(category, count, sizeMB)
}

// UpdateStoreAvailable sets the availability gauge (1=connected).
func (c *Collector) UpdateStoreAvailable(available bool) {
	if !c.enabled() {
		return
	}
	c.storageMetrics.UpdateAvailable(available)
}

// RecordCleanup records one finished cleanup pass.
//
// Parameters:
//   - mode: "threshold", "emergency" or "collection"
//   - status: "cleaned", "noop", "skipped" or "partial"
//   - duration: wall time of the pass
//   - freedMB: storage reclaimed by the pass
func (c *Collector) RecordCleanup(mode, status string, duration time.Duration, freedMB float64) {
	if !c.enabled() {
		return
	}
	c.cleanupMetrics.RecordRun(mode, status, duration, freedMB)
}

// RecordDeleted adds n to the deleted-records counter of a category.
func (c *Collector) RecordDeleted(category, mode string, n int64) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.cleanupMetrics.RecordDeleted(category, mode, n)
}

// RecordCleanupError counts a failed category delete inside a pass.
func (c *Collector) RecordCleanupError(category string) {
	if !c.enabled() {
		return
	}
	c.cleanupMetrics.RecordError(category)
}

// RecordIngest counts one write on the ingest path by outcome
// ("ok", "skipped", "failed").
func (c *Collector) RecordIngest(category, status string) {
	if !c.enabled() {
		return
	}
	c.ingestMetrics.RecordWrite(category, status)
}

// RecordIngestDrop counts a write dropped because the dispatch queue was full.
func (c *Collector) RecordIngestDrop(category string) {
	if !c.enabled() {
		return
	}
	c.ingestMetrics.RecordDrop(category)
}

// UpdateQueueDepth sets the number of writes waiting in the dispatch queue.
func (c *Collector) UpdateQueueDepth(depth int) {
	if !c.enabled() {
		return
	}
	c.ingestMetrics.UpdateQueueDepth(depth)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
