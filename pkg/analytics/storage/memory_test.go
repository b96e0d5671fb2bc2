package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
)

func TestMemoryStore_ApplyMenuDelta(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	key := analytics.MenuKey{MenuID: 7, Period: "2024-05-01", PeriodType: analytics.PeriodDaily}

	hour := 13
	deltas := []analytics.MenuDelta{
		{Title: "Pasta", Views: 1},
		{Title: "Pasta", Orders: 1, Revenue: 50, Diet: analytics.CounterMap{"vegan": 1}, PeakHour: &hour},
		{Title: "Pasta v2", Orders: 1, Revenue: 50, Theme: analytics.CounterMap{"italian": 1}, PeakHour: &hour},
	}
	for _, d := range deltas {
		if err := store.ApplyMenuDelta(ctx, key, d, now); err != nil {
			t.Fatalf("ApplyMenuDelta failed: %v", err)
		}
	}

	recs, err := store.MenuAnalytics(ctx, 7, analytics.PeriodDaily, 10)
	if err != nil {
		t.Fatalf("MenuAnalytics failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}

	r := recs[0]
	if r.ViewCount != 1 || r.OrderCount != 2 || r.TotalRevenue != 100 {
		t.Errorf("unexpected counters: views=%d orders=%d revenue=%v", r.ViewCount, r.OrderCount, r.TotalRevenue)
	}
	if r.MenuTitle != "Pasta v2" {
		t.Errorf("expected latest title, got %q", r.MenuTitle)
	}
	if r.OrdersByDiet["vegan"] != 1 || r.OrdersByTheme["italian"] != 1 {
		t.Errorf("unexpected nested counters: diet=%v theme=%v", r.OrdersByDiet, r.OrdersByTheme)
	}
	if len(r.PeakHours) != 2 || r.PeakHours[0] != 13 {
		t.Errorf("unexpected peak hours: %v", r.PeakHours)
	}
}

func TestMemoryStore_ApplyMenuDelta_RejectsBadKeys(t *testing.T) {
	store := NewMemoryStore(nil)
	key := analytics.MenuKey{MenuID: 1, Period: "2024-05-01", PeriodType: analytics.PeriodDaily}

	err := store.ApplyMenuDelta(context.Background(), key, analytics.MenuDelta{Diet: analytics.CounterMap{"$set": 1}}, time.Now())
	if err == nil {
		t.Fatal("expected error for invalid counter key")
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	key := analytics.MenuKey{MenuID: 3, Period: "2024-05-01", PeriodType: analytics.PeriodDaily}

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.ApplyMenuDelta(ctx, key, analytics.MenuDelta{Title: "Soup", Views: 1}, time.Now())
		}()
	}
	wg.Wait()

	recs, _ := store.MenuAnalytics(ctx, 3, analytics.PeriodDaily, 0)
	if len(recs) != 1 || recs[0].ViewCount != n {
		t.Fatalf("expected one record with %d views, got %+v", n, recs)
	}
}

func TestMemoryStore_DeleteOlderThan(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Now()

	for _, age := range []int{5, 40, 400} {
		rec := &analytics.ActivityRecord{ID: time.Duration(age).String(), Action: "view", Timestamp: now.AddDate(0, 0, -age)}
		if err := store.AppendActivity(ctx, rec); err != nil {
			t.Fatalf("AppendActivity failed: %v", err)
		}
	}

	deleted, err := store.DeleteOlderThan(ctx, analytics.UserActivityLog, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	stats, _ := store.CollectionStats(ctx, analytics.UserActivityLog)
	if stats.Count != 1 {
		t.Errorf("expected 1 remaining, got %d", stats.Count)
	}
}

func TestMemoryStore_DeleteOlderThan_Keyed(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Now()

	old := &analytics.OrderSnapshotRecord{OrderID: "o-1", CreatedAt: now.AddDate(0, 0, -200)}
	fresh := &analytics.OrderSnapshotRecord{OrderID: "o-2", CreatedAt: now.AddDate(0, 0, -10)}
	_ = store.UpsertOrderSnapshot(ctx, old)
	_ = store.UpsertOrderSnapshot(ctx, fresh)

	deleted, err := store.DeleteOlderThan(ctx, analytics.OrderSnapshot, now.AddDate(0, 0, -180))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestMemoryStore_SizeAccounting(t *testing.T) {
	store := NewMemoryStore(&MemoryConfig{BytesPerRecord: 1000, BaseBytes: 500})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = store.AppendSearch(ctx, &analytics.SearchRecord{Query: "pizza", Timestamp: time.Now()})
	}

	stats, err := store.CollectionStats(ctx, analytics.SearchAnalytics)
	if err != nil {
		t.Fatalf("CollectionStats failed: %v", err)
	}
	if stats.Count != 3 || stats.SizeBytes != 3000 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	total, err := store.DatabaseSize(ctx)
	if err != nil {
		t.Fatalf("DatabaseSize failed: %v", err)
	}
	if total != 3500 {
		t.Errorf("expected 3500 bytes, got %d", total)
	}
}

func TestMemoryStore_FailOn(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	store.FailOn(OpStats, analytics.AuditLog, boom)

	if _, err := store.CollectionStats(ctx, analytics.AuditLog); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	if _, err := store.CollectionStats(ctx, analytics.SearchAnalytics); err != nil {
		t.Errorf("unexpected error for other category: %v", err)
	}

	store.FailOn(OpStats, analytics.AuditLog, nil)
	if _, err := store.CollectionStats(ctx, analytics.AuditLog); err != nil {
		t.Errorf("expected failure to be cleared, got %v", err)
	}

	store.FailOn(OpDelete, 0, boom)
	if _, err := store.DeleteOlderThan(ctx, analytics.MenuAnalytics, time.Now()); !errors.Is(err, boom) {
		t.Errorf("expected wildcard failure, got %v", err)
	}
}

func TestMemoryStore_CreateIndexConflict(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	spec := analytics.IndexSpec{Name: "timestamp_ttl", Category: analytics.AuditLog, Fields: []string{"timestamp"}, TTL: time.Hour}

	if err := store.CreateIndex(ctx, spec); err != nil {
		t.Fatalf("first CreateIndex failed: %v", err)
	}
	err := store.CreateIndex(ctx, spec)
	if !analytics.IsIndexConflict(err) {
		t.Errorf("expected index conflict, got %v", err)
	}

	spec.TTL = 2 * time.Hour
	if err := store.CreateIndex(ctx, spec); err != nil {
		t.Fatalf("changed TTL should update the index, got %v", err)
	}
	if got := store.Indexes()[0].TTL; got != 2*time.Hour {
		t.Errorf("expected updated TTL 2h, got %v", got)
	}
}

func TestMemoryStore_Reads(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Now()

	for i, q := range []string{"pizza", "pizza", "sushi", "pizza", "sushi", "tacos"} {
		_ = store.AppendSearch(ctx, &analytics.SearchRecord{
			NormalizedQuery: q,
			SessionID:       "s-1",
			Timestamp:       now.Add(-time.Duration(i) * time.Minute),
		})
	}
	_ = store.AppendSearch(ctx, &analytics.SearchRecord{NormalizedQuery: "old", Timestamp: now.AddDate(0, 0, -30)})

	popular, err := store.PopularSearches(ctx, now.AddDate(0, 0, -7), 2)
	if err != nil {
		t.Fatalf("PopularSearches failed: %v", err)
	}
	if len(popular) != 2 || popular[0].Query != "pizza" || popular[0].Count != 3 || popular[1].Query != "sushi" {
		t.Errorf("unexpected popular searches: %+v", popular)
	}

	n, err := store.MarkSearchesConverted(ctx, "s-1", now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("MarkSearchesConverted failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 converted, got %d", n)
	}

	for i := 0; i < 3; i++ {
		_ = store.AppendActivity(ctx, &analytics.ActivityRecord{UserID: "u-1", Action: "view", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	acts, _ := store.UserActivity(ctx, "u-1", 2)
	if len(acts) != 2 || !acts[0].Timestamp.After(acts[1].Timestamp) {
		t.Errorf("expected 2 activities newest first, got %+v", acts)
	}

	_ = store.AppendAudit(ctx, &analytics.AuditRecord{EntityType: "menu", EntityID: "7", Action: "update", Timestamp: now})
	trail, _ := store.AuditTrail(ctx, "menu", "7", 0)
	if len(trail) != 1 {
		t.Errorf("expected 1 audit record, got %d", len(trail))
	}
}

func TestMemoryStore_SummarizeOrders(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Now()
	midnight := analytics.StartOfDay(now)

	orders := []*analytics.OrderSnapshotRecord{
		{OrderID: "1", Status: analytics.OrderStatusCompleted, TotalPrice: 30, CreatedAt: midnight.Add(time.Minute)},
		{OrderID: "2", Status: analytics.OrderStatusCancelled, TotalPrice: 20, CreatedAt: midnight.Add(2 * time.Minute)},
		{OrderID: "3", Status: analytics.OrderStatusPending, TotalPrice: 10, CreatedAt: midnight.Add(3 * time.Minute)},
		{OrderID: "4", Status: analytics.OrderStatusCompleted, TotalPrice: 99, CreatedAt: midnight.Add(-time.Hour)},
	}
	for _, o := range orders {
		_ = store.UpsertOrderSnapshot(ctx, o)
	}

	sum, err := store.SummarizeOrders(ctx, midnight)
	if err != nil {
		t.Fatalf("SummarizeOrders failed: %v", err)
	}
	if sum.TotalOrders != 3 || sum.CompletedOrders != 1 || sum.CancelledOrders != 1 || sum.PendingOrders != 1 || sum.TotalRevenue != 60 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}
