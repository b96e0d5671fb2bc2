package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/aggregator"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// Activity action and target type written by TrackMenuView.
const (
	ActionView     = "view"
	TargetTypeMenu = "menu"
)

// ConversionWindow is how far back MarkSearchConverted reaches.
const ConversionWindow = 24 * time.Hour

// Ingestor writes the append-only categories and order snapshots.
type Ingestor struct {
	provider analytics.Provider
	writer   *aggregator.Writer
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewIngestor creates an ingestor. writer receives the counter half of
// TrackMenuView; collector may be nil.
func NewIngestor(provider analytics.Provider, writer *aggregator.Writer, collector *metrics.Collector) *Ingestor {
	return &Ingestor{
		provider: provider,
		writer:   writer,
		metrics:  collector,
		logger:   slog.Default().With("component", "analytics.ingest"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithClock replaces the time source used to stamp records.
func (in *Ingestor) WithClock(now func() time.Time) *Ingestor {
	in.now = now
	return in
}

// LogActivity appends one activity record. ID and Timestamp are filled in
// when empty.
func (in *Ingestor) LogActivity(ctx context.Context, rec *analytics.ActivityRecord) analytics.Result {
	store := in.provider.Store()
	if store == nil {
		return in.record(analytics.UserActivityLog, analytics.Skipped())
	}
	if rec.ID == "" {
		rec.ID = in.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = in.now()
	}

	if err := store.AppendActivity(ctx, rec); err != nil {
		in.logger.Warn("activity append failed", "action", rec.Action, "error", err)
		return in.record(analytics.UserActivityLog, analytics.Failed(err))
	}
	return in.record(analytics.UserActivityLog, analytics.OK())
}

// TrackMenuView counts one view of the menu and logs it as user activity.
// The first failure is returned; the activity is appended either way.
func (in *Ingestor) TrackMenuView(ctx context.Context, userID string, menuID int64, title, sessionID string) analytics.Result {
	counted := in.writer.IncrementMenuViews(ctx, menuID, title)
	logged := in.LogActivity(ctx, &analytics.ActivityRecord{
		UserID:     userID,
		SessionID:  sessionID,
		Action:     ActionView,
		TargetType: TargetTypeMenu,
		TargetID:   strconv.FormatInt(menuID, 10),
		TargetName: title,
	})

	if !counted.IsOK() {
		return counted
	}
	return logged
}

// TrackSearch appends one search record with its normalized query.
func (in *Ingestor) TrackSearch(ctx context.Context, rec *analytics.SearchRecord) analytics.Result {
	store := in.provider.Store()
	if store == nil {
		return in.record(analytics.SearchAnalytics, analytics.Skipped())
	}
	if rec.ID == "" {
		rec.ID = in.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = in.now()
	}
	rec.NormalizedQuery = NormalizeQuery(rec.Query)

	if err := store.AppendSearch(ctx, rec); err != nil {
		in.logger.Warn("search append failed", "error", err)
		return in.record(analytics.SearchAnalytics, analytics.Failed(err))
	}
	return in.record(analytics.SearchAnalytics, analytics.OK())
}

// MarkSearchConverted flags the session's searches of the last 24 hours as
// converted to an order.
func (in *Ingestor) MarkSearchConverted(ctx context.Context, sessionID string) analytics.Result {
	store := in.provider.Store()
	if store == nil {
		return in.record(analytics.SearchAnalytics, analytics.Skipped())
	}
	if sessionID == "" {
		return in.record(analytics.SearchAnalytics, analytics.Failed(errors.New("session id is required")))
	}

	n, err := store.MarkSearchesConverted(ctx, sessionID, in.now().Add(-ConversionWindow))
	if err != nil {
		in.logger.Warn("search conversion update failed", "session_id", sessionID, "error", err)
		return in.record(analytics.SearchAnalytics, analytics.Failed(err))
	}

	in.logger.Debug("searches marked converted", "session_id", sessionID, "count", n)
	return in.record(analytics.SearchAnalytics, analytics.OK())
}

// LogAudit appends one audit record.
func (in *Ingestor) LogAudit(ctx context.Context, rec *analytics.AuditRecord) analytics.Result {
	store := in.provider.Store()
	if store == nil {
		return in.record(analytics.AuditLog, analytics.Skipped())
	}
	if rec.ID == "" {
		rec.ID = in.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = in.now()
	}

	if err := store.AppendAudit(ctx, rec); err != nil {
		in.logger.Warn("audit append failed",
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"error", err,
		)
		return in.record(analytics.AuditLog, analytics.Failed(err))
	}
	return in.record(analytics.AuditLog, analytics.OK())
}

// SnapshotOrder inserts or replaces the snapshot of one order. CreatedAt
// and OrderDate default to now; UpdatedAt is always now.
func (in *Ingestor) SnapshotOrder(ctx context.Context, rec *analytics.OrderSnapshotRecord) analytics.Result {
	store := in.provider.Store()
	if store == nil {
		return in.record(analytics.OrderSnapshot, analytics.Skipped())
	}
	if rec.OrderID == "" {
		return in.record(analytics.OrderSnapshot, analytics.Failed(errors.New("order id is required")))
	}

	now := in.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.OrderDate.IsZero() {
		rec.OrderDate = rec.CreatedAt
	}
	rec.UpdatedAt = now

	if err := store.UpsertOrderSnapshot(ctx, rec); err != nil {
		in.logger.Warn("order snapshot upsert failed", "order_id", rec.OrderID, "error", err)
		return in.record(analytics.OrderSnapshot, analytics.Failed(err))
	}
	return in.record(analytics.OrderSnapshot, analytics.OK())
}

func (in *Ingestor) record(c analytics.Category, res analytics.Result) analytics.Result {
	in.metrics.RecordIngest(c.String(), res.Status.String())
	return res
}

// NormalizeQuery trims, lower-cases and collapses runs of whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
