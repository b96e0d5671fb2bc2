package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/tally/pkg/analytics"
)

// Operations that can be made to fail on a MemoryStore.
const (
	OpPing         = "ping"
	OpWrite        = "write"
	OpDelete       = "delete"
	OpStats        = "stats"
	OpDatabaseSize = "database_size"
	OpIndex        = "index"
)

// MemoryConfig contains configuration for the in-memory backend.
type MemoryConfig struct {
	// BytesPerRecord, when positive, is the size every record counts for in
	// the size reports. Otherwise the JSON encoding length is used.
	BytesPerRecord int64

	// BaseBytes is added to the database size, standing in for data the
	// store holds outside the managed categories.
	BaseBytes int64
}

type dashboardKey struct {
	date string
	typ  string
}

// MemoryStore implements analytics.Store using in-memory maps.
// This implementation is intended for testing and local development only.
type MemoryStore struct {
	config MemoryConfig

	mu         sync.RWMutex
	activity   []*analytics.ActivityRecord
	searches   []*analytics.SearchRecord
	audits     []*analytics.AuditRecord
	orders     map[string]*analytics.OrderSnapshotRecord
	menus      map[analytics.MenuKey]*analytics.MenuAnalyticsRecord
	dashboards map[dashboardKey]*analytics.DashboardStatsRecord
	indexes    map[string]analytics.IndexSpec
	failures   map[string]error
	closed     bool
}

// NewMemoryStore creates a new in-memory backend.
func NewMemoryStore(config *MemoryConfig) *MemoryStore {
	if config == nil {
		config = &MemoryConfig{}
	}
	return &MemoryStore{
		config:     *config,
		orders:     make(map[string]*analytics.OrderSnapshotRecord),
		menus:      make(map[analytics.MenuKey]*analytics.MenuAnalyticsRecord),
		dashboards: make(map[dashboardKey]*analytics.DashboardStatsRecord),
		indexes:    make(map[string]analytics.IndexSpec),
		failures:   make(map[string]error),
	}
}

// FailOn makes op fail with err for category c. A zero category applies to
// every category. A nil err clears the failure.
func (s *MemoryStore) FailOn(op string, c analytics.Category, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := failureKey(op, c)
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// SetBaseBytes replaces the base size added to DatabaseSize.
func (s *MemoryStore) SetBaseBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.BaseBytes = n
}

func failureKey(op string, c analytics.Category) string {
	return fmt.Sprintf("%s/%d", op, int(c))
}

// failure must be called with mu held.
func (s *MemoryStore) failure(op string, c analytics.Category) error {
	if s.closed {
		return analytics.NewStorageError("memory", op, c, fmt.Errorf("store closed"))
	}
	if err, ok := s.failures[failureKey(op, c)]; ok {
		return analytics.NewStorageError("memory", op, c, err)
	}
	if err, ok := s.failures[failureKey(op, 0)]; ok {
		return analytics.NewStorageError("memory", op, c, err)
	}
	return nil
}

// Backend implements analytics.Store.
func (s *MemoryStore) Backend() string { return "memory" }

// Ping implements analytics.Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure(OpPing, 0)
}

// CreateIndex records the index. A TTL index whose expiry differs from the
// recorded one is updated in place; any other index with the same name on
// the same category is reported as a conflict.
func (s *MemoryStore) CreateIndex(ctx context.Context, spec analytics.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpIndex, spec.Category); err != nil {
		return analytics.NewIndexError(spec.Name, spec.Category, false, err)
	}

	key := spec.Category.Collection() + "." + spec.Name
	if existing, exists := s.indexes[key]; exists {
		if existing.TTL > 0 && spec.TTL > 0 && existing.TTL != spec.TTL {
			existing.TTL = spec.TTL
			s.indexes[key] = existing
			return nil
		}
		return analytics.NewIndexError(spec.Name, spec.Category, true, fmt.Errorf("index %s already exists", key))
	}
	s.indexes[key] = spec
	return nil
}

// Indexes returns the recorded index specs.
func (s *MemoryStore) Indexes() []analytics.IndexSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()

	specs := make([]analytics.IndexSpec, 0, len(s.indexes))
	for _, spec := range s.indexes {
		specs = append(specs, spec)
	}
	return specs
}

// ApplyMenuDelta implements analytics.Store. The store mutex stands in for
// the backend's per-document atomicity.
func (s *MemoryStore) ApplyMenuDelta(ctx context.Context, key analytics.MenuKey, delta analytics.MenuDelta, now time.Time) error {
	if err := delta.Validate(); err != nil {
		return analytics.NewStorageError("memory", "upsert", analytics.MenuAnalytics, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.MenuAnalytics); err != nil {
		return err
	}

	rec, ok := s.menus[key]
	if !ok {
		rec = &analytics.MenuAnalyticsRecord{
			MenuID:        key.MenuID,
			Period:        key.Period,
			PeriodType:    key.PeriodType,
			OrdersByDiet:  analytics.CounterMap{},
			OrdersByTheme: analytics.CounterMap{},
			PeakHours:     []int{},
			CreatedAt:     now,
		}
		s.menus[key] = rec
	}

	rec.MenuTitle = delta.Title
	rec.ViewCount += delta.Views
	rec.OrderCount += delta.Orders
	rec.TotalRevenue += delta.Revenue
	rec.OrdersByDiet.Merge(delta.Diet)
	rec.OrdersByTheme.Merge(delta.Theme)
	if delta.PeakHour != nil {
		rec.PeakHours = append(rec.PeakHours, *delta.PeakHour)
	}
	rec.RatingCount += delta.RatingCount
	rec.RatingSum += delta.RatingSum
	rec.UpdatedAt = now

	return nil
}

// UpsertOrderSnapshot implements analytics.Store.
func (s *MemoryStore) UpsertOrderSnapshot(ctx context.Context, rec *analytics.OrderSnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.OrderSnapshot); err != nil {
		return err
	}

	cp := *rec
	cp.Items = append([]analytics.OrderItem(nil), rec.Items...)
	if existing, ok := s.orders[rec.OrderID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.orders[rec.OrderID] = &cp
	return nil
}

// UpsertDashboardStats implements analytics.Store.
func (s *MemoryStore) UpsertDashboardStats(ctx context.Context, rec *analytics.DashboardStatsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.DashboardStats); err != nil {
		return err
	}

	cp := *rec
	s.dashboards[dashboardKey{date: rec.Date, typ: rec.Type}] = &cp
	return nil
}

// AppendActivity implements analytics.Store.
func (s *MemoryStore) AppendActivity(ctx context.Context, rec *analytics.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.UserActivityLog); err != nil {
		return err
	}
	cp := *rec
	s.activity = append(s.activity, &cp)
	return nil
}

// AppendSearch implements analytics.Store.
func (s *MemoryStore) AppendSearch(ctx context.Context, rec *analytics.SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.SearchAnalytics); err != nil {
		return err
	}
	cp := *rec
	s.searches = append(s.searches, &cp)
	return nil
}

// AppendAudit implements analytics.Store.
func (s *MemoryStore) AppendAudit(ctx context.Context, rec *analytics.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.AuditLog); err != nil {
		return err
	}
	cp := *rec
	s.audits = append(s.audits, &cp)
	return nil
}

// MarkSearchesConverted implements analytics.Store.
func (s *MemoryStore) MarkSearchesConverted(ctx context.Context, sessionID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpWrite, analytics.SearchAnalytics); err != nil {
		return 0, err
	}

	var n int64
	for _, rec := range s.searches {
		if rec.SessionID == sessionID && !rec.Timestamp.Before(since) && !rec.ConvertedToOrder {
			rec.ConvertedToOrder = true
			n++
		}
	}
	return n, nil
}

// DeleteOlderThan implements analytics.Store.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, c analytics.Category, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpDelete, c); err != nil {
		return 0, err
	}

	var deleted int64
	switch c {
	case analytics.UserActivityLog:
		s.activity, deleted = filterOlder(s.activity, cutoff, func(r *analytics.ActivityRecord) time.Time { return r.Timestamp })
	case analytics.SearchAnalytics:
		s.searches, deleted = filterOlder(s.searches, cutoff, func(r *analytics.SearchRecord) time.Time { return r.Timestamp })
	case analytics.AuditLog:
		s.audits, deleted = filterOlder(s.audits, cutoff, func(r *analytics.AuditRecord) time.Time { return r.Timestamp })
	case analytics.OrderSnapshot:
		deleted = deleteOlder(s.orders, cutoff, func(r *analytics.OrderSnapshotRecord) time.Time { return r.CreatedAt })
	case analytics.MenuAnalytics:
		deleted = deleteOlder(s.menus, cutoff, func(r *analytics.MenuAnalyticsRecord) time.Time { return r.UpdatedAt })
	case analytics.DashboardStats:
		deleted = deleteOlder(s.dashboards, cutoff, func(r *analytics.DashboardStatsRecord) time.Time { return r.ComputedAt })
	default:
		return 0, analytics.NewStorageError("memory", OpDelete, c, fmt.Errorf("unknown category"))
	}

	return deleted, nil
}

func filterOlder[T any](records []*T, cutoff time.Time, ts func(*T) time.Time) ([]*T, int64) {
	kept := records[:0]
	var deleted int64
	for _, r := range records {
		if ts(r).Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	// Clear the tail so removed records can be collected.
	for i := len(kept); i < len(records); i++ {
		records[i] = nil
	}
	return kept, deleted
}

func deleteOlder[K comparable, T any](records map[K]*T, cutoff time.Time, ts func(*T) time.Time) int64 {
	var deleted int64
	for k, r := range records {
		if ts(r).Before(cutoff) {
			delete(records, k)
			deleted++
		}
	}
	return deleted
}

// CollectionStats implements analytics.Store.
func (s *MemoryStore) CollectionStats(ctx context.Context, c analytics.Category) (analytics.CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpStats, c); err != nil {
		return analytics.CollectionStats{}, err
	}
	return s.collectionStats(c), nil
}

// collectionStats must be called with mu held.
func (s *MemoryStore) collectionStats(c analytics.Category) analytics.CollectionStats {
	var docs []any
	switch c {
	case analytics.UserActivityLog:
		docs = toAny(s.activity)
	case analytics.SearchAnalytics:
		docs = toAny(s.searches)
	case analytics.AuditLog:
		docs = toAny(s.audits)
	case analytics.OrderSnapshot:
		docs = mapToAny(s.orders)
	case analytics.MenuAnalytics:
		docs = mapToAny(s.menus)
	case analytics.DashboardStats:
		docs = mapToAny(s.dashboards)
	}

	stats := analytics.CollectionStats{Count: int64(len(docs))}
	if s.config.BytesPerRecord > 0 {
		stats.SizeBytes = stats.Count * s.config.BytesPerRecord
		return stats
	}
	for _, d := range docs {
		if data, err := json.Marshal(d); err == nil {
			stats.SizeBytes += int64(len(data))
		}
	}
	return stats
}

func toAny[T any](records []*T) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

func mapToAny[K comparable, T any](records map[K]*T) []any {
	out := make([]any, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	return out
}

// DatabaseSize implements analytics.Store.
func (s *MemoryStore) DatabaseSize(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpDatabaseSize, 0); err != nil {
		return 0, err
	}

	total := s.config.BaseBytes
	for _, c := range analytics.AllCategories() {
		total += s.collectionStats(c).SizeBytes
	}
	return total, nil
}

// SummarizeOrders implements analytics.Store.
func (s *MemoryStore) SummarizeOrders(ctx context.Context, since time.Time) (analytics.OrderSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum analytics.OrderSummary
	for _, o := range s.orders {
		if o.CreatedAt.Before(since) {
			continue
		}
		sum.TotalOrders++
		sum.TotalRevenue += o.TotalPrice
		switch o.Status {
		case analytics.OrderStatusCompleted:
			sum.CompletedOrders++
		case analytics.OrderStatusCancelled:
			sum.CancelledOrders++
		case analytics.OrderStatusPending:
			sum.PendingOrders++
		}
	}
	return sum, nil
}

// PopularSearches implements analytics.Store.
func (s *MemoryStore) PopularSearches(ctx context.Context, since time.Time, limit int) ([]analytics.PopularSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, rec := range s.searches {
		if rec.Timestamp.Before(since) || rec.NormalizedQuery == "" {
			continue
		}
		counts[rec.NormalizedQuery]++
	}

	out := make([]analytics.PopularSearch, 0, len(counts))
	for q, n := range counts {
		out = append(out, analytics.PopularSearch{Query: q, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	return truncate(out, limit), nil
}

// MenuAnalytics implements analytics.Store.
func (s *MemoryStore) MenuAnalytics(ctx context.Context, menuID int64, pt analytics.PeriodType, limit int) ([]*analytics.MenuAnalyticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*analytics.MenuAnalyticsRecord
	for key, rec := range s.menus {
		if key.MenuID != menuID || key.PeriodType != pt {
			continue
		}
		cp := *rec
		cp.OrdersByDiet = analytics.CounterMap{}
		cp.OrdersByDiet.Merge(rec.OrdersByDiet)
		cp.OrdersByTheme = analytics.CounterMap{}
		cp.OrdersByTheme.Merge(rec.OrdersByTheme)
		cp.PeakHours = append([]int{}, rec.PeakHours...)
		cp.DeriveAverageRating()
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	return truncate(out, limit), nil
}

// DashboardStats implements analytics.Store.
func (s *MemoryStore) DashboardStats(ctx context.Context, date, typ string) (*analytics.DashboardStatsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.dashboards[dashboardKey{date: date, typ: typ}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// UserActivity implements analytics.Store.
func (s *MemoryStore) UserActivity(ctx context.Context, userID string, limit int) ([]*analytics.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*analytics.ActivityRecord
	for _, rec := range s.activity {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit), nil
}

// AuditTrail implements analytics.Store.
func (s *MemoryStore) AuditTrail(ctx context.Context, entityType, entityID string, limit int) ([]*analytics.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*analytics.AuditRecord
	for _, rec := range s.audits {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return truncate(out, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// Close implements analytics.Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
