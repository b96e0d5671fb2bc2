// Package query is the read side of the analytics store. Every method
// returns an empty result, not an error, while the store is unavailable.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tally/pkg/analytics"
)

const (
	// DefaultLimit is used when a caller passes no limit.
	DefaultLimit = 10

	// MaxLimit is the largest limit a caller may request.
	MaxLimit = 1000

	// DefaultPopularDays is the lookback of GetPopularSearches when days is
	// not positive.
	DefaultPopularDays = 7
)

// Limits bounds result sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the default result bounds.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: MaxLimit}
}

// Resolve returns the limit to use for a request. Zero selects the default;
// negative or too large values are rejected.
func (l Limits) Resolve(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("limit must be >= 0, got %d", limit)
	case limit == 0:
		return l.Default, nil
	case limit > l.Max:
		return 0, fmt.Errorf("limit must be <= %d, got %d", l.Max, limit)
	}
	return limit, nil
}

// Reader serves aggregates back to callers.
type Reader struct {
	provider analytics.Provider
	limits   Limits
	logger   *slog.Logger
	now      func() time.Time
}

// NewReader creates a reader. Zero limit fields take the defaults.
func NewReader(provider analytics.Provider, limits Limits) *Reader {
	if limits.Default <= 0 {
		limits.Default = DefaultLimit
	}
	if limits.Max <= 0 {
		limits.Max = MaxLimit
	}
	if limits.Default > limits.Max {
		limits.Default = limits.Max
	}
	return &Reader{
		provider: provider,
		limits:   limits,
		logger:   slog.Default().With("component", "analytics.query"),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for lookback windows.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// GetPopularSearches returns the most frequent normalized queries of the
// last days, most frequent first.
func (r *Reader) GetPopularSearches(ctx context.Context, days, limit int) ([]analytics.PopularSearch, error) {
	n, err := r.limits.Resolve(limit)
	if err != nil {
		return nil, err
	}
	store := r.provider.Store()
	if store == nil {
		return []analytics.PopularSearch{}, nil
	}
	if days <= 0 {
		days = DefaultPopularDays
	}

	out, err := store.PopularSearches(ctx, analytics.Cutoff(r.now(), days), n)
	if err != nil {
		r.logger.Warn("popular searches query failed", "error", err)
		return []analytics.PopularSearch{}, nil
	}
	return out, nil
}

// GetMenuAnalytics returns the records of one menu, most recent period
// first.
func (r *Reader) GetMenuAnalytics(ctx context.Context, menuID int64, pt analytics.PeriodType, limit int) ([]*analytics.MenuAnalyticsRecord, error) {
	n, err := r.limits.Resolve(limit)
	if err != nil {
		return nil, err
	}
	if pt == "" {
		pt = analytics.PeriodDaily
	}
	if !pt.Valid() {
		return nil, fmt.Errorf("unknown period type %q", pt)
	}
	store := r.provider.Store()
	if store == nil {
		return []*analytics.MenuAnalyticsRecord{}, nil
	}

	out, err := store.MenuAnalytics(ctx, menuID, pt, n)
	if err != nil {
		r.logger.Warn("menu analytics query failed", "menu_id", menuID, "error", err)
		return []*analytics.MenuAnalyticsRecord{}, nil
	}
	return out, nil
}

// GetDashboardStats returns the daily rollup for date (YYYY-MM-DD), or nil
// when none was computed. An empty date means today.
func (r *Reader) GetDashboardStats(ctx context.Context, date string) (*analytics.DashboardStatsRecord, error) {
	if date == "" {
		date = analytics.DailyPeriod(r.now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	store := r.provider.Store()
	if store == nil {
		return nil, nil
	}

	rec, err := store.DashboardStats(ctx, date, string(analytics.PeriodDaily))
	if err != nil {
		r.logger.Warn("dashboard stats query failed", "date", date, "error", err)
		return nil, nil
	}
	return rec, nil
}

// GetUserActivity returns a user's activity, newest first.
func (r *Reader) GetUserActivity(ctx context.Context, userID string, limit int) ([]*analytics.ActivityRecord, error) {
	n, err := r.limits.Resolve(limit)
	if err != nil {
		return nil, err
	}
	store := r.provider.Store()
	if store == nil {
		return []*analytics.ActivityRecord{}, nil
	}

	out, err := store.UserActivity(ctx, userID, n)
	if err != nil {
		r.logger.Warn("user activity query failed", "error", err)
		return []*analytics.ActivityRecord{}, nil
	}
	return out, nil
}

// GetAuditTrail returns an entity's audit records, newest first.
func (r *Reader) GetAuditTrail(ctx context.Context, entityType, entityID string, limit int) ([]*analytics.AuditRecord, error) {
	n, err := r.limits.Resolve(limit)
	if err != nil {
		return nil, err
	}
	store := r.provider.Store()
	if store == nil {
		return []*analytics.AuditRecord{}, nil
	}

	out, err := store.AuditTrail(ctx, entityType, entityID, n)
	if err != nil {
		r.logger.Warn("audit trail query failed",
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
		return []*analytics.AuditRecord{}, nil
	}
	return out, nil
}
