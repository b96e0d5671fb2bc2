package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/analytics/storage"
	"mercator-hq/tally/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticProvider struct {
	store analytics.Store
}

func (p staticProvider) IsAvailable() bool      { return p.store != nil }
func (p staticProvider) Store() analytics.Store { return p.store }

func daysAgo(d int) time.Time {
	return time.Now().AddDate(0, 0, -d)
}

// seed inserts one record per age into category c.
func seed(t *testing.T, store analytics.Store, c analytics.Category, ages ...int) {
	t.Helper()
	ctx := context.Background()

	for i, age := range ages {
		ts := daysAgo(age)
		var err error
		switch c {
		case analytics.UserActivityLog:
			err = store.AppendActivity(ctx, &analytics.ActivityRecord{SessionID: "s", Action: "view", Timestamp: ts})
		case analytics.SearchAnalytics:
			err = store.AppendSearch(ctx, &analytics.SearchRecord{Query: "soup", SessionID: "s", Timestamp: ts})
		case analytics.AuditLog:
			err = store.AppendAudit(ctx, &analytics.AuditRecord{EntityType: "menu", EntityID: "1", Action: "update", Timestamp: ts})
		case analytics.OrderSnapshot:
			err = store.UpsertOrderSnapshot(ctx, &analytics.OrderSnapshotRecord{
				OrderID:   string(rune('a'+i)) + ts.Format("150405.000"),
				Status:    analytics.OrderStatusCompleted,
				CreatedAt: ts,
			})
		case analytics.MenuAnalytics:
			key := analytics.MenuKey{MenuID: int64(i + 1), Period: analytics.DailyPeriod(ts), PeriodType: analytics.PeriodDaily}
			err = store.ApplyMenuDelta(ctx, key, analytics.MenuDelta{Title: "menu", Views: 1}, ts)
		case analytics.DashboardStats:
			err = store.UpsertDashboardStats(ctx, &analytics.DashboardStatsRecord{Date: analytics.DailyPeriod(ts), Type: "daily", ComputedAt: ts})
		}
		if err != nil {
			t.Fatalf("seeding %s failed: %v", c, err)
		}
	}
}

func count(t *testing.T, store analytics.Store, c analytics.Category) int64 {
	t.Helper()
	stats, err := store.CollectionStats(context.Background(), c)
	if err != nil {
		t.Fatalf("CollectionStats(%s) failed: %v", c, err)
	}
	return stats.Count
}

func newEngine(store analytics.Store, maxMB, threshold float64, collector *metrics.Collector) *Engine {
	provider := staticProvider{store}
	monitor := capacity.NewMonitor(provider, maxMB, collector)
	return NewEngine(provider, monitor, Config{ThresholdPercent: threshold}, collector)
}

func TestCheckAndCleanupStorage_BelowThreshold(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BaseBytes: 80 * analytics.BytesPerMB})
	seed(t, store, analytics.UserActivityLog, 400)

	report, err := newEngine(store, 100, 85, nil).CheckAndCleanupStorage(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanupStorage failed: %v", err)
	}

	if report.Cleaned || report.DeletedCount != 0 {
		t.Errorf("expected {cleaned:false, deletedCount:0}, got cleaned=%v deleted=%d", report.Cleaned, report.DeletedCount)
	}
	if count(t, store, analytics.UserActivityLog) != 1 {
		t.Error("no record may be deleted below the threshold")
	}
}

func TestCheckAndCleanupStorage_DeletesExpired(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BaseBytes: 90 * analytics.BytesPerMB})
	seed(t, store, analytics.UserActivityLog, 5, 40, 400)

	report, err := newEngine(store, 100, 85, nil).CheckAndCleanupStorage(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanupStorage failed: %v", err)
	}

	if !report.Cleaned {
		t.Fatal("expected cleanup above threshold")
	}
	if got := report.Deleted[analytics.UserActivityLog]; got != 2 {
		t.Errorf("expected 40d and 400d records deleted, got %d", got)
	}
	if count(t, store, analytics.UserActivityLog) != 1 {
		t.Error("expected the 5d record to survive")
	}
	if report.UsedPercentageBefore < 90 {
		t.Errorf("expected usage before >= 90, got %v", report.UsedPercentageBefore)
	}
}

func TestCheckAndCleanupStorage_StopsAtSafetyMargin(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BytesPerRecord: analytics.BytesPerMB})
	seed(t, store, analytics.UserActivityLog, 40, 41, 42, 43, 44, 45, 46, 47)
	seed(t, store, analytics.SearchAnalytics, 60)

	report, err := newEngine(store, 10, 85, nil).CheckAndCleanupStorage(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanupStorage failed: %v", err)
	}

	if !report.StoppedAtMargin {
		t.Error("expected pass to stop at the safety margin")
	}
	if report.DeletedCount != 8 {
		t.Errorf("expected 8 activity records deleted, got %d", report.DeletedCount)
	}
	if _, visited := report.Deleted[analytics.SearchAnalytics]; visited {
		t.Error("search analytics must not be visited once usage is below 70%")
	}
	if count(t, store, analytics.SearchAnalytics) != 1 {
		t.Error("expired search record should survive an early stop")
	}
	if report.FreedMB != 8 {
		t.Errorf("expected 8 MB freed, got %v", report.FreedMB)
	}
	if report.UsedPercentageAfter != 10 {
		t.Errorf("expected 10%% after, got %v", report.UsedPercentageAfter)
	}
}

func TestCheckAndCleanupStorage_ThresholdReload(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BaseBytes: 80 * analytics.BytesPerMB})
	seed(t, store, analytics.UserActivityLog, 400)
	engine := newEngine(store, 100, 85, nil)

	engine.SetThresholdPercent(75)
	engine.SetThresholdPercent(150)

	if engine.ThresholdPercent() != 75 {
		t.Fatalf("expected threshold 75, got %v", engine.ThresholdPercent())
	}

	report, _ := engine.CheckAndCleanupStorage(context.Background())
	if !report.Cleaned || report.DeletedCount != 1 {
		t.Errorf("expected cleanup with lowered threshold, got %+v", report)
	}
}

func TestEmergencyCleanup_HalvesRetention(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	seed(t, store, analytics.UserActivityLog, 14, 16)
	seed(t, store, analytics.AuditLog, 44, 46)
	seed(t, store, analytics.OrderSnapshot, 89, 91)
	seed(t, store, analytics.MenuAnalytics, 181, 183)

	report, err := newEngine(store, 1000, 85, nil).EmergencyCleanup(context.Background())
	if err != nil {
		t.Fatalf("EmergencyCleanup failed: %v", err)
	}

	tests := []struct {
		category analytics.Category
		deleted  int64
	}{
		{analytics.UserActivityLog, 1}, // 30d -> 15d
		{analytics.AuditLog, 1},        // 90d -> 45d
		{analytics.OrderSnapshot, 1},   // 180d -> 90d
		{analytics.MenuAnalytics, 1},   // 365d -> 182d
	}
	for _, tt := range tests {
		if got := report.Deleted[tt.category]; got != tt.deleted {
			t.Errorf("%s: expected %d deleted, got %d", tt.category, tt.deleted, got)
		}
		if count(t, store, tt.category) != 1 {
			t.Errorf("%s: expected the newer record to survive", tt.category)
		}
	}

	if len(report.Deleted) != len(analytics.AllCategories()) {
		t.Errorf("emergency cleanup must visit every category, visited %d", len(report.Deleted))
	}
	if !report.Cleaned || report.Mode != ModeEmergency {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestEmergencyCleanup_MinimumSevenDays(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	seed(t, store, analytics.SearchAnalytics, 6, 8)

	policy, err := analytics.DefaultPolicy().WithOverrides(map[analytics.Category]int{analytics.SearchAnalytics: 10}, false)
	if err != nil {
		t.Fatalf("WithOverrides failed: %v", err)
	}
	engine := newEngine(store, 1000, 85, nil)
	engine.SetPolicy(policy)

	report, _ := engine.EmergencyCleanup(context.Background())
	if got := report.Deleted[analytics.SearchAnalytics]; got != 1 {
		t.Errorf("expected only the 8d record deleted with a 7d floor, got %d", got)
	}
}

func TestEmergencyCleanup_PartialFailure(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	seed(t, store, analytics.UserActivityLog, 100)
	seed(t, store, analytics.AuditLog, 100)
	seed(t, store, analytics.OrderSnapshot, 100)
	store.FailOn(storage.OpDelete, analytics.AuditLog, errors.New("write conflict"))

	collector := metrics.NewCollector(nil, nil)
	report, err := newEngine(store, 1000, 85, collector).EmergencyCleanup(context.Background())
	if err != nil {
		t.Fatalf("partial failure must not fail the pass: %v", err)
	}

	if len(report.Errors) != 1 {
		t.Fatalf("expected one category failure, got %v", report.Errors)
	}
	var cleanupErr *analytics.CleanupError
	if !errors.As(report.Err(), &cleanupErr) || cleanupErr.Category != analytics.AuditLog {
		t.Errorf("expected CleanupError for audit_log, got %v", report.Err())
	}
	if report.DeletedCount != 2 {
		t.Errorf("expected the other categories to be cleaned, got %d", report.DeletedCount)
	}
	if len(report.Failures) != 1 {
		t.Errorf("expected failure message in report, got %v", report.Failures)
	}

	runs, err := testutil.GatherAndCount(collector.Registry(), "tally_analytics_cleanup_errors_total")
	if err != nil || runs != 1 {
		t.Errorf("expected one cleanup error series, got %d (%v)", runs, err)
	}
}

func TestCleanup_Unavailable(t *testing.T) {
	engine := newEngine(nil, 450, 85, nil)

	report, err := engine.CheckAndCleanupStorage(context.Background())
	if err != nil || !report.Skipped || report.Cleaned {
		t.Errorf("expected skipped check, got %+v, %v", report, err)
	}

	report, err = engine.EmergencyCleanup(context.Background())
	if err != nil || !report.Skipped {
		t.Errorf("expected skipped emergency cleanup, got %+v, %v", report, err)
	}

	n, err := engine.CleanupCollection(context.Background(), analytics.AuditLog, 0)
	if n != 0 || err != nil {
		t.Errorf("expected zero result when unavailable, got %d, %v", n, err)
	}
}

func TestCleanupCollection(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	seed(t, store, analytics.AuditLog, 10, 20, 100)
	engine := newEngine(store, 1000, 85, nil)

	deleted, err := engine.CleanupCollection(context.Background(), analytics.AuditLog, 15)
	if err != nil {
		t.Fatalf("CleanupCollection failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 records older than 15 days deleted, got %d", deleted)
	}

	records, _ := store.AuditTrail(context.Background(), "menu", "1", 10)
	cutoff := analytics.Cutoff(time.Now(), 15)
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			t.Errorf("record at %v is older than the cutoff", r.Timestamp)
		}
	}
	if len(records) != 1 {
		t.Errorf("expected the 10d record to remain, got %d records", len(records))
	}

	if _, err := engine.CleanupCollection(context.Background(), analytics.Category(99), 0); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestCleanupCollection_DefaultRetention(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	seed(t, store, analytics.AuditLog, 80, 100)

	deleted, err := newEngine(store, 1000, 85, nil).CleanupCollection(context.Background(), analytics.AuditLog, 0)
	if err != nil || deleted != 1 {
		t.Errorf("expected the 100d audit record deleted with the 90d policy, got %d, %v", deleted, err)
	}
}

func TestEngine_SerializesPasses(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BaseBytes: 95 * analytics.BytesPerMB})
	for i := 0; i < 20; i++ {
		seed(t, store, analytics.UserActivityLog, 40+i)
	}
	engine := newEngine(store, 100, 85, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(emergency bool) {
			defer wg.Done()
			var report *Report
			if emergency {
				report, _ = engine.EmergencyCleanup(context.Background())
			} else {
				report, _ = engine.CheckAndCleanupStorage(context.Background())
			}
			mu.Lock()
			total += report.Deleted[analytics.UserActivityLog]
			mu.Unlock()
		}(i%2 == 0)
	}
	wg.Wait()

	if total != 20 {
		t.Errorf("expected every expired record deleted exactly once across passes, got %d", total)
	}
	if engine.State() != StateIdle {
		t.Errorf("expected idle after passes, got %s", engine.State())
	}
}

func TestEngine_Metrics(t *testing.T) {
	store := storage.NewMemoryStore(&storage.MemoryConfig{BaseBytes: 10 * analytics.BytesPerMB})
	collector := metrics.NewCollector(nil, nil)

	if _, err := newEngine(store, 100, 85, collector).CheckAndCleanupStorage(context.Background()); err != nil {
		t.Fatalf("CheckAndCleanupStorage failed: %v", err)
	}

	n, err := testutil.GatherAndCount(collector.Registry(), "tally_analytics_cleanup_runs_total")
	if err != nil || n != 1 {
		t.Errorf("expected one cleanup run series, got %d (%v)", n, err)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:              "idle",
		StateChecking:          "checking",
		StateCleaning:          "cleaning",
		StateEmergencyCleaning: "emergency_cleaning",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}
