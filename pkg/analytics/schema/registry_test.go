package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/storage"
)

func TestRegistry_IndexesFor(t *testing.T) {
	r := NewRegistry(nil)

	specs := r.IndexesFor(analytics.MenuAnalytics)
	if len(specs) != 2 {
		t.Fatalf("expected 2 menu indexes, got %d", len(specs))
	}

	ttl := specs[0]
	if ttl.Name != "updatedAt_ttl" || ttl.TTL != 365*24*time.Hour {
		t.Errorf("unexpected TTL index: %+v", ttl)
	}

	uniq := specs[1]
	if !uniq.Unique || uniq.Name != "menuId_period_periodType_uniq" {
		t.Errorf("unexpected unique index: %+v", uniq)
	}

	search := r.IndexesFor(analytics.SearchAnalytics)
	if len(search) != 3 {
		t.Errorf("expected 3 search indexes, got %d", len(search))
	}
	for _, s := range search[1:] {
		if s.Unique || s.TTL != 0 {
			t.Errorf("lookup index should be plain: %+v", s)
		}
	}
}

func TestRegistry_FollowsPolicy(t *testing.T) {
	policy, err := analytics.DefaultPolicy().WithOverrides(map[analytics.Category]int{
		analytics.SearchAnalytics: 14,
	}, false)
	if err != nil {
		t.Fatalf("WithOverrides failed: %v", err)
	}

	specs := NewRegistry(policy).IndexesFor(analytics.SearchAnalytics)
	if specs[0].TTL != 14*24*time.Hour {
		t.Errorf("expected 14 day TTL, got %v", specs[0].TTL)
	}
}

func TestRegistry_Indexes(t *testing.T) {
	specs := NewRegistry(nil).Indexes()

	// 6 TTL indexes, 3 unique keys, 4 lookups
	if len(specs) != 13 {
		t.Errorf("expected 13 indexes, got %d", len(specs))
	}

	seen := make(map[string]bool)
	for _, s := range specs {
		id := s.Category.String() + "/" + s.Name
		if seen[id] {
			t.Errorf("duplicate index %s", id)
		}
		seen[id] = true
	}
}

func TestUniqueKey(t *testing.T) {
	if got := UniqueKey(analytics.OrderSnapshot); len(got) != 1 || got[0] != "orderId" {
		t.Errorf("unexpected order key: %v", got)
	}
	if got := UniqueKey(analytics.AuditLog); got != nil {
		t.Errorf("expected no key for append-only category, got %v", got)
	}
}

func TestApply(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	ctx := context.Background()
	registry := NewRegistry(nil)

	report := Apply(ctx, store, registry)
	if report.Created != 13 || report.Conflicts != 0 || report.Failed != 0 {
		t.Errorf("unexpected first report: %+v", report)
	}

	report = Apply(ctx, store, registry)
	if report.Created != 0 || report.Conflicts != 13 {
		t.Errorf("expected all conflicts on second apply, got %+v", report)
	}
}

func TestApply_FailuresAreCounted(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	store.FailOn(storage.OpIndex, analytics.AuditLog, errors.New("not authorized"))

	report := Apply(context.Background(), store, NewRegistry(nil))

	// audit log has a TTL and one lookup index
	if report.Failed != 2 || report.Created != 11 {
		t.Errorf("unexpected report: %+v", report)
	}
}
