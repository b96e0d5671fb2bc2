package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

const (
	// SafetyMarginPercent is the usage below which a threshold-triggered
	// pass stops visiting further categories.
	SafetyMarginPercent = 70.0

	// DefaultThresholdPercent is used when no valid threshold is configured.
	DefaultThresholdPercent = 85.0
)

// Mode identifies the kind of cleanup pass.
type Mode string

const (
	ModeThreshold  Mode = "threshold"
	ModeEmergency  Mode = "emergency"
	ModeCollection Mode = "collection"
)

// State is the engine's current activity.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateCleaning
	StateEmergencyCleaning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateCleaning:
		return "cleaning"
	case StateEmergencyCleaning:
		return "emergency_cleaning"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Report is the outcome of one cleanup pass.
type Report struct {
	Mode    Mode `json:"mode"`
	Cleaned bool `json:"cleaned"`

	// Skipped is set when the store was unavailable and nothing ran.
	Skipped bool `json:"skipped,omitempty"`

	DeletedCount int64                        `json:"deletedCount"`
	Deleted      map[analytics.Category]int64 `json:"deleted,omitempty"`
	FreedMB      float64                      `json:"freedMB"`

	UsedPercentageBefore float64 `json:"usedPercentageBefore"`
	UsedPercentageAfter  float64 `json:"usedPercentageAfter"`

	// StoppedAtMargin is set when a threshold pass ended early because
	// usage fell below SafetyMarginPercent.
	StoppedAtMargin bool `json:"stoppedAtMargin,omitempty"`

	// Errors holds one CleanupError per category whose delete failed.
	Errors   []error  `json:"-"`
	Failures []string `json:"errors,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Err joins the per-category failures, or returns nil.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

func (r *Report) status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case !r.Cleaned:
		return "noop"
	case len(r.Errors) > 0:
		return "partial"
	}
	return "cleaned"
}

// Config contains the tunables of an Engine.
type Config struct {
	// ThresholdPercent is the usage at which a scheduled check cleans.
	ThresholdPercent float64

	// Policy is the retention table. Nil means analytics.DefaultPolicy().
	Policy *analytics.Policy
}

// Engine deletes expired analytics records to keep the store within its
// budget. CheckAndCleanupStorage and EmergencyCleanup never run at the same
// time; a second caller waits for the running pass.
type Engine struct {
	provider analytics.Provider
	monitor  *capacity.Monitor
	metrics  *metrics.Collector
	logger   *slog.Logger

	policy        atomic.Pointer[analytics.Policy]
	thresholdBits atomic.Uint64

	runMu sync.Mutex
	state atomic.Int32

	now func() time.Time
}

// NewEngine creates a cleanup engine. collector may be nil.
func NewEngine(provider analytics.Provider, monitor *capacity.Monitor, cfg Config, collector *metrics.Collector) *Engine {
	e := &Engine{
		provider: provider,
		monitor:  monitor,
		metrics:  collector,
		logger:   slog.Default().With("component", "analytics.retention"),
		now:      time.Now,
	}

	policy := cfg.Policy
	if policy == nil {
		policy = analytics.DefaultPolicy()
	}
	e.policy.Store(policy)
	e.SetThresholdPercent(cfg.ThresholdPercent)

	return e
}

// SetThresholdPercent replaces the cleanup threshold. Values outside
// (0, 100] are ignored.
func (e *Engine) SetThresholdPercent(p float64) {
	if p <= 0 || p > 100 {
		e.logger.Warn("ignoring invalid cleanup threshold", "threshold_percent", p)
		if e.thresholdBits.Load() == 0 {
			e.thresholdBits.Store(math.Float64bits(DefaultThresholdPercent))
		}
		return
	}
	e.thresholdBits.Store(math.Float64bits(p))
}

// ThresholdPercent returns the current cleanup threshold.
func (e *Engine) ThresholdPercent() float64 {
	return math.Float64frombits(e.thresholdBits.Load())
}

// SetPolicy replaces the retention table used by subsequent passes.
func (e *Engine) SetPolicy(p *analytics.Policy) {
	if p != nil {
		e.policy.Store(p)
	}
}

// Policy returns the retention table in effect.
func (e *Engine) Policy() *analytics.Policy {
	return e.policy.Load()
}

// State returns what the engine is doing right now.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// CheckAndCleanupStorage cleans only when usage has reached the threshold.
// It then visits categories in priority order, re-checking usage before
// each and stopping once usage is below SafetyMarginPercent. Every visited
// category loses the records older than its retention period.
//
// A failed category delete is recorded in the report and the pass goes on.
// The pass runs to completion even if ctx is cancelled.
func (e *Engine) CheckAndCleanupStorage(ctx context.Context) (*Report, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	defer e.state.Store(int32(StateIdle))

	ctx = context.WithoutCancel(ctx)
	start := e.now()
	report := &Report{Mode: ModeThreshold, Deleted: make(map[analytics.Category]int64)}
	defer e.finish(report, start)

	if !e.provider.IsAvailable() {
		report.Skipped = true
		e.logger.Warn("analytics store unavailable, skipping storage check")
		return report, nil
	}

	e.state.Store(int32(StateChecking))

	before, err := e.monitor.GetStorageStats(ctx)
	if err != nil {
		report.Skipped = errors.Is(err, analytics.ErrUnavailable)
		return report, fmt.Errorf("failed to read storage stats: %w", err)
	}
	report.UsedPercentageBefore = before.UsedPercentage
	report.UsedPercentageAfter = before.UsedPercentage

	threshold := e.ThresholdPercent()
	if before.UsedPercentage < threshold {
		e.logger.Debug("storage below cleanup threshold",
			"used_percentage", before.UsedPercentage,
			"threshold_percent", threshold,
		)
		return report, nil
	}

	e.logger.Info("storage above cleanup threshold, starting cleanup",
		"used_percentage", before.UsedPercentage,
		"threshold_percent", threshold,
		"total_size_mb", before.TotalSizeMB,
	)

	e.state.Store(int32(StateCleaning))
	report.Cleaned = true
	policy := e.Policy()

	current := before
	for i, c := range policy.Priority() {
		if i > 0 {
			current, err = e.monitor.GetStorageStats(ctx)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("storage re-check before %s: %w", c, err))
				break
			}
		}
		if current.UsedPercentage < SafetyMarginPercent {
			report.StoppedAtMargin = true
			e.logger.Info("storage below safety margin, stopping cleanup",
				"used_percentage", current.UsedPercentage,
				"next_category", c.String(),
			)
			break
		}

		e.deleteCategory(ctx, report, c, policy.RetentionDays(c))
	}

	e.complete(ctx, report, before)
	return report, nil
}

// EmergencyCleanup ignores the threshold and visits every category with
// the halved retention period of Policy.EmergencyDays. It shares the
// cleanup critical section with CheckAndCleanupStorage.
func (e *Engine) EmergencyCleanup(ctx context.Context) (*Report, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	defer e.state.Store(int32(StateIdle))

	ctx = context.WithoutCancel(ctx)
	start := e.now()
	report := &Report{Mode: ModeEmergency, Deleted: make(map[analytics.Category]int64)}
	defer e.finish(report, start)

	if !e.provider.IsAvailable() {
		report.Skipped = true
		e.logger.Warn("analytics store unavailable, skipping emergency cleanup")
		return report, nil
	}

	e.state.Store(int32(StateEmergencyCleaning))
	e.logger.Warn("emergency cleanup started")

	before, err := e.monitor.GetStorageStats(ctx)
	if err != nil {
		report.Skipped = errors.Is(err, analytics.ErrUnavailable)
		return report, fmt.Errorf("failed to read storage stats: %w", err)
	}
	report.UsedPercentageBefore = before.UsedPercentage
	report.Cleaned = true

	policy := e.Policy()
	for _, c := range policy.Priority() {
		e.deleteCategory(ctx, report, c, policy.EmergencyDays(c))
	}

	e.complete(ctx, report, before)
	return report, nil
}

// CleanupCollection deletes the records of one category older than
// overrideDays, or older than the category's retention period when
// overrideDays is not positive. It returns 0 when the store is unavailable.
func (e *Engine) CleanupCollection(ctx context.Context, c analytics.Category, overrideDays int) (int64, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("unknown category %d", int(c))
	}

	days := overrideDays
	if days <= 0 {
		days = e.Policy().RetentionDays(c)
	}

	store := e.provider.Store()
	if store == nil {
		return 0, nil
	}

	deleted, err := e.cleanupCategory(ctx, store, c, days)
	if err != nil {
		return 0, err
	}
	e.metrics.RecordDeleted(c.String(), string(ModeCollection), deleted)
	return deleted, nil
}

func (e *Engine) cleanupCategory(ctx context.Context, store analytics.Store, c analytics.Category, days int) (int64, error) {
	cutoff := analytics.Cutoff(e.now(), days)

	deleted, err := store.DeleteOlderThan(ctx, c, cutoff)
	if err != nil {
		return 0, analytics.NewCleanupError(c, cutoff.Format(time.RFC3339), err)
	}

	e.logger.Info("category cleaned",
		"category", c.String(),
		"retention_days", days,
		"cutoff", cutoff,
		"deleted_count", deleted,
	)
	return deleted, nil
}

func (e *Engine) deleteCategory(ctx context.Context, report *Report, c analytics.Category, days int) {
	store := e.provider.Store()
	if store == nil {
		report.Errors = append(report.Errors, analytics.NewCleanupError(c, "", analytics.ErrUnavailable))
		return
	}

	deleted, err := e.cleanupCategory(ctx, store, c, days)
	if err != nil {
		e.logger.Error("category cleanup failed, continuing", "category", c.String(), "error", err)
		e.metrics.RecordCleanupError(c.String())
		report.Errors = append(report.Errors, err)
		return
	}

	report.Deleted[c] = deleted
	report.DeletedCount += deleted
	e.metrics.RecordDeleted(c.String(), string(report.Mode), deleted)
}

// complete fills the after-pass figures from a fresh capacity report.
func (e *Engine) complete(ctx context.Context, report *Report, before *capacity.Stats) {
	after, err := e.monitor.GetStorageStats(ctx)
	if err != nil {
		e.logger.Warn("failed to read storage stats after cleanup", "error", err)
		report.UsedPercentageAfter = report.UsedPercentageBefore
		return
	}
	report.UsedPercentageAfter = after.UsedPercentage
	report.FreedMB = max(0, before.TotalSizeMB-after.TotalSizeMB)
}

func (e *Engine) finish(report *Report, start time.Time) {
	report.Duration = e.now().Sub(start)
	for _, err := range report.Errors {
		report.Failures = append(report.Failures, err.Error())
	}
	e.metrics.RecordCleanup(string(report.Mode), report.status(), report.Duration, report.FreedMB)

	if report.Cleaned {
		e.logger.Info("cleanup finished",
			"mode", report.Mode,
			"deleted_count", report.DeletedCount,
			"freed_mb", report.FreedMB,
			"used_percentage_before", report.UsedPercentageBefore,
			"used_percentage_after", report.UsedPercentageAfter,
			"failed_categories", len(report.Errors),
			"duration", report.Duration,
		)
	}
}
