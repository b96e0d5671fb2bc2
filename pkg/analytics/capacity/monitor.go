// Package capacity reports how much of the storage budget the analytics
// store is using.
package capacity

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// CategoryStats is the size of one category.
type CategoryStats struct {
	Count  int64   `json:"count"`
	SizeMB float64 `json:"sizeMB"`
}

// Stats is one capacity report.
type Stats struct {
	TotalSizeMB    float64                              `json:"totalSizeMB"`
	MaxStorageMB   float64                              `json:"maxStorageMB"`
	UsedPercentage float64                              `json:"usedPercentage"`
	Categories     map[analytics.Category]CategoryStats `json:"collections"`
	CollectedAt    time.Time                            `json:"collectedAt"`

	// Partial lists the categories whose statistics could not be read and
	// were counted as empty.
	Partial []analytics.Category `json:"partial,omitempty"`
}

// Monitor computes capacity reports against a configurable budget.
type Monitor struct {
	provider analytics.Provider
	metrics  *metrics.Collector
	logger   *slog.Logger

	maxBits atomic.Uint64
	now     func() time.Time
}

// NewMonitor creates a monitor. collector may be nil.
func NewMonitor(provider analytics.Provider, maxStorageMB float64, collector *metrics.Collector) *Monitor {
	m := &Monitor{
		provider: provider,
		metrics:  collector,
		logger:   slog.Default().With("component", "analytics.capacity"),
		now:      time.Now,
	}
	m.SetMaxStorageMB(maxStorageMB)
	return m
}

// SetMaxStorageMB replaces the storage budget. Non-positive values are ignored.
func (m *Monitor) SetMaxStorageMB(mb float64) {
	if mb <= 0 {
		m.logger.Warn("ignoring non-positive storage budget", "max_storage_mb", mb)
		return
	}
	m.maxBits.Store(math.Float64bits(mb))
}

// MaxStorageMB returns the current storage budget.
func (m *Monitor) MaxStorageMB() float64 {
	return math.Float64frombits(m.maxBits.Load())
}

// GetStorageStats reports the store size, per-category sizes and the share
// of the budget in use. A category whose statistics fail is reported as
// {0, 0} and listed in Partial. If the database size itself cannot be read,
// the total is the sum of the categories.
//
// It returns analytics.ErrUnavailable, and an empty report, when the store
// is not connected.
func (m *Monitor) GetStorageStats(ctx context.Context) (*Stats, error) {
	maxMB := m.MaxStorageMB()
	stats := &Stats{
		MaxStorageMB: maxMB,
		Categories:   make(map[analytics.Category]CategoryStats, len(analytics.AllCategories())),
		CollectedAt:  m.now(),
	}

	store := m.provider.Store()
	if store == nil {
		return stats, analytics.ErrUnavailable
	}

	var categoryBytes int64
	for _, c := range analytics.AllCategories() {
		cs, err := store.CollectionStats(ctx, c)
		if err != nil {
			statErr := analytics.NewStatError(c, err)
			m.logger.Warn("category stats unavailable, counting as empty",
				"category", c.String(),
				"error", statErr,
			)
			stats.Categories[c] = CategoryStats{}
			stats.Partial = append(stats.Partial, c)
			m.metrics.UpdateCategoryStats(c.String(), 0, 0)
			continue
		}

		categoryBytes += cs.SizeBytes
		entry := CategoryStats{Count: cs.Count, SizeMB: toMB(cs.SizeBytes)}
		stats.Categories[c] = entry
		m.metrics.UpdateCategoryStats(c.String(), entry.Count, entry.SizeMB)
	}

	totalBytes, err := store.DatabaseSize(ctx)
	if err != nil {
		if errors.Is(err, analytics.ErrUnavailable) {
			return stats, err
		}
		m.logger.Warn("database size unavailable, using category sum", "error", err)
		totalBytes = categoryBytes
	}

	stats.TotalSizeMB = toMB(totalBytes)
	stats.UsedPercentage = UsedPercentage(stats.TotalSizeMB, maxMB)

	m.metrics.UpdateStorageUsage(stats.TotalSizeMB, stats.UsedPercentage, maxMB)

	m.logger.Debug("storage stats collected",
		"total_size_mb", stats.TotalSizeMB,
		"used_percentage", stats.UsedPercentage,
		"partial", len(stats.Partial),
	)

	return stats, nil
}

// UsedPercentage returns totalMB as a percentage of maxMB.
func UsedPercentage(totalMB, maxMB float64) float64 {
	if maxMB <= 0 {
		return 0
	}
	return totalMB / maxMB * 100
}

func toMB(bytes int64) float64 {
	return float64(bytes) / analytics.BytesPerMB
}
