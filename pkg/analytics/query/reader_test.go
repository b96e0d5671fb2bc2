package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/storage"
)

type staticProvider struct {
	store analytics.Store
}

func (p staticProvider) IsAvailable() bool      { return p.store != nil }
func (p staticProvider) Store() analytics.Store { return p.store }

var fixedNow = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func newReader(store analytics.Store) *Reader {
	return NewReader(staticProvider{store}, DefaultLimits()).WithClock(func() time.Time { return fixedNow })
}

func TestLimits_Resolve(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name    string
		limit   int
		want    int
		wantErr bool
	}{
		{"zero uses default", 0, DefaultLimit, false},
		{"explicit", 25, 25, false},
		{"max", MaxLimit, MaxLimit, false},
		{"negative", -1, 0, true},
		{"too large", MaxLimit + 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := limits.Resolve(tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%d) error = %v, wantErr %v", tt.limit, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestNewReader_ClampsDefault(t *testing.T) {
	r := NewReader(staticProvider{}, Limits{Default: 50, Max: 20})
	if r.limits.Default != 20 {
		t.Errorf("expected default clamped to max, got %d", r.limits.Default)
	}
}

func TestGetPopularSearches(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()

	add := func(q string, age time.Duration) {
		t.Helper()
		rec := &analytics.SearchRecord{Query: q, NormalizedQuery: q, SessionID: "s", Timestamp: fixedNow.Add(-age)}
		if err := store.AppendSearch(ctx, rec); err != nil {
			t.Fatalf("AppendSearch failed: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		add("ramen", time.Hour)
	}
	add("tacos", time.Hour)
	add("tacos", 2*time.Hour)
	add("pho", 30*24*time.Hour)

	r := newReader(store)

	got, err := r.GetPopularSearches(ctx, 7, 0)
	if err != nil {
		t.Fatalf("GetPopularSearches failed: %v", err)
	}
	want := []analytics.PopularSearch{{Query: "ramen", Count: 3}, {Query: "tacos", Count: 2}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, _ = r.GetPopularSearches(ctx, 60, 1)
	if len(got) != 1 || got[0].Query != "ramen" {
		t.Errorf("expected only the top query, got %v", got)
	}

	if _, err := r.GetPopularSearches(ctx, 7, MaxLimit+1); err == nil {
		t.Error("expected limit error")
	}
}

func TestGetMenuAnalytics(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()

	for i, day := range []time.Time{fixedNow.AddDate(0, 0, -2), fixedNow, fixedNow.AddDate(0, 0, -1)} {
		key := analytics.MenuKey{MenuID: 5, Period: analytics.DailyPeriod(day), PeriodType: analytics.PeriodDaily}
		delta := analytics.MenuDelta{Title: "Soup", Views: int64(i + 1), RatingCount: 1, RatingSum: 4}
		if err := store.ApplyMenuDelta(ctx, key, delta, day); err != nil {
			t.Fatalf("ApplyMenuDelta failed: %v", err)
		}
	}

	r := newReader(store)
	recs, err := r.GetMenuAnalytics(ctx, 5, "", 2)
	if err != nil {
		t.Fatalf("GetMenuAnalytics failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Period != "2026-06-10" || recs[1].Period != "2026-06-09" {
		t.Errorf("expected most recent first, got %s, %s", recs[0].Period, recs[1].Period)
	}
	if recs[0].AverageRating != 4 {
		t.Errorf("expected derived average 4, got %v", recs[0].AverageRating)
	}

	if _, err := r.GetMenuAnalytics(ctx, 5, "hourly", 0); err == nil {
		t.Error("expected unknown period type error")
	}
}

func TestGetDashboardStats(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()

	rec := &analytics.DashboardStatsRecord{Date: "2026-06-10", Type: "daily", TotalOrders: 4, ComputedAt: fixedNow}
	if err := store.UpsertDashboardStats(ctx, rec); err != nil {
		t.Fatalf("UpsertDashboardStats failed: %v", err)
	}

	r := newReader(store)

	got, err := r.GetDashboardStats(ctx, "")
	if err != nil || got == nil || got.TotalOrders != 4 {
		t.Errorf("expected today's rollup, got %+v, %v", got, err)
	}

	got, err = r.GetDashboardStats(ctx, "2026-06-01")
	if err != nil || got != nil {
		t.Errorf("expected nil for a missing day, got %+v, %v", got, err)
	}

	if _, err := r.GetDashboardStats(ctx, "10/06/2026"); err == nil {
		t.Error("expected invalid date error")
	}
}

func TestGetUserActivityAndAuditTrail(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		ts := fixedNow.Add(time.Duration(i) * time.Minute)
		store.AppendActivity(ctx, &analytics.ActivityRecord{ID: fmt.Sprint(i), UserID: "u1", Action: "view", Timestamp: ts})
		store.AppendAudit(ctx, &analytics.AuditRecord{ID: fmt.Sprint(i), EntityType: "menu", EntityID: "1", Action: "update", Timestamp: ts})
	}

	r := newReader(store)

	activity, err := r.GetUserActivity(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("GetUserActivity failed: %v", err)
	}
	if len(activity) != DefaultLimit || activity[0].ID != "14" {
		t.Errorf("expected %d newest-first records, got %d starting at %s", DefaultLimit, len(activity), activity[0].ID)
	}

	trail, err := r.GetAuditTrail(ctx, "menu", "1", 3)
	if err != nil {
		t.Fatalf("GetAuditTrail failed: %v", err)
	}
	if len(trail) != 3 || trail[0].ID != "14" || trail[2].ID != "12" {
		t.Errorf("unexpected audit trail: %d records", len(trail))
	}
}

func TestReader_Unavailable(t *testing.T) {
	r := newReader(nil)
	ctx := context.Background()

	searches, err := r.GetPopularSearches(ctx, 7, 0)
	if err != nil || searches == nil || len(searches) != 0 {
		t.Errorf("expected empty non-nil searches, got %v, %v", searches, err)
	}
	menus, err := r.GetMenuAnalytics(ctx, 1, analytics.PeriodWeekly, 0)
	if err != nil || len(menus) != 0 {
		t.Errorf("expected empty menu analytics, got %v, %v", menus, err)
	}
	stats, err := r.GetDashboardStats(ctx, "")
	if err != nil || stats != nil {
		t.Errorf("expected nil dashboard stats, got %v, %v", stats, err)
	}
	activity, err := r.GetUserActivity(ctx, "u", 0)
	if err != nil || len(activity) != 0 {
		t.Errorf("expected empty activity, got %v, %v", activity, err)
	}
	trail, err := r.GetAuditTrail(ctx, "menu", "1", 0)
	if err != nil || len(trail) != 0 {
		t.Errorf("expected empty audit trail, got %v, %v", trail, err)
	}
}
