// Package aggregator maintains the counter and rollup categories: per-menu
// daily analytics and the daily dashboard statistics.
//
// Every write is a single idempotent-keyed upsert applied by the store, so
// concurrent writers on different processes converge without locks.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// Writer updates MenuAnalytics and DashboardStats records.
type Writer struct {
	provider analytics.Provider
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewWriter creates a writer. collector may be nil.
func NewWriter(provider analytics.Provider, collector *metrics.Collector) *Writer {
	return &Writer{
		provider: provider,
		metrics:  collector,
		logger:   slog.Default().With("component", "analytics.aggregator"),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Periods and peak hours follow the
// clock's location.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// IncrementMenuViews adds one view to today's record of the menu.
func (w *Writer) IncrementMenuViews(ctx context.Context, menuID int64, title string) analytics.Result {
	return w.applyMenu(ctx, menuID, analytics.MenuDelta{Title: title, Views: 1}, w.now())
}

// RecordMenuOrder adds one order and its revenue to today's record of the
// menu, appends the current hour to the peak hours, and counts the order
// under diet and theme when they are not empty.
func (w *Writer) RecordMenuOrder(ctx context.Context, menuID int64, title string, revenue float64, diet, theme string) analytics.Result {
	now := w.now()
	hour := now.Hour()

	delta := analytics.MenuDelta{
		Title:    title,
		Orders:   1,
		Revenue:  revenue,
		PeakHour: &hour,
	}
	if diet != "" {
		delta.Diet = analytics.CounterMap{diet: 1}
	}
	if theme != "" {
		delta.Theme = analytics.CounterMap{theme: 1}
	}

	return w.applyMenu(ctx, menuID, delta, now)
}

// Rating bounds accepted by RecordMenuRating.
const (
	MinRating = 1.0
	MaxRating = 5.0
)

// RecordMenuRating adds one rating to today's record of the menu. The
// average is derived from ratingSum and ratingCount when read.
func (w *Writer) RecordMenuRating(ctx context.Context, menuID int64, title string, rating float64) analytics.Result {
	if rating < MinRating || rating > MaxRating {
		err := fmt.Errorf("rating %.2f out of range %.0f-%.0f", rating, MinRating, MaxRating)
		w.logger.Warn("menu rating rejected", "menu_id", menuID, "error", err)
		w.metrics.RecordIngest(analytics.MenuAnalytics.String(), analytics.StatusFailed.String())
		return analytics.Failed(err)
	}

	return w.applyMenu(ctx, menuID, analytics.MenuDelta{Title: title, RatingCount: 1, RatingSum: rating}, w.now())
}

func (w *Writer) applyMenu(ctx context.Context, menuID int64, delta analytics.MenuDelta, now time.Time) analytics.Result {
	store := w.provider.Store()
	if store == nil {
		return w.record(analytics.MenuAnalytics, analytics.Skipped())
	}

	key := analytics.MenuKey{
		MenuID:     menuID,
		Period:     analytics.DailyPeriod(now),
		PeriodType: analytics.PeriodDaily,
	}

	if err := store.ApplyMenuDelta(ctx, key, delta, now); err != nil {
		w.logger.Warn("menu analytics update failed",
			"menu_id", menuID,
			"period", key.Period,
			"error", err,
		)
		return w.record(analytics.MenuAnalytics, analytics.Failed(err))
	}

	return w.record(analytics.MenuAnalytics, analytics.OK())
}

// UpdateDashboardStats aggregates the order snapshots created since local
// midnight and upserts today's daily rollup.
func (w *Writer) UpdateDashboardStats(ctx context.Context) analytics.Result {
	store := w.provider.Store()
	if store == nil {
		return w.record(analytics.DashboardStats, analytics.Skipped())
	}

	now := w.now()
	summary, err := store.SummarizeOrders(ctx, analytics.StartOfDay(now))
	if err != nil {
		w.logger.Warn("order summary failed", "error", err)
		return w.record(analytics.DashboardStats, analytics.Failed(err))
	}

	rec := BuildDashboardStats(summary, now)
	if err := store.UpsertDashboardStats(ctx, rec); err != nil {
		w.logger.Warn("dashboard stats upsert failed", "date", rec.Date, "error", err)
		return w.record(analytics.DashboardStats, analytics.Failed(err))
	}

	w.logger.Debug("dashboard stats updated",
		"date", rec.Date,
		"total_orders", rec.TotalOrders,
		"total_revenue", rec.TotalRevenue,
	)
	return w.record(analytics.DashboardStats, analytics.OK())
}

// BuildDashboardStats turns an order summary into the daily rollup for now.
func BuildDashboardStats(summary analytics.OrderSummary, now time.Time) *analytics.DashboardStatsRecord {
	rec := &analytics.DashboardStatsRecord{
		Date:            analytics.DailyPeriod(now),
		Type:            string(analytics.PeriodDaily),
		TotalOrders:     summary.TotalOrders,
		CompletedOrders: summary.CompletedOrders,
		CancelledOrders: summary.CancelledOrders,
		PendingOrders:   summary.PendingOrders,
		TotalRevenue:    summary.TotalRevenue,
		ComputedAt:      now,
	}
	if summary.TotalOrders > 0 {
		rec.AverageOrderValue = summary.TotalRevenue / float64(summary.TotalOrders)
	}
	return rec
}

func (w *Writer) record(c analytics.Category, res analytics.Result) analytics.Result {
	w.metrics.RecordIngest(c.String(), res.Status.String())
	return res
}
