package analytics

import (
	"context"
	"fmt"
	"time"
)

// ActivityRecord is one UserActivityLog entry.
type ActivityRecord struct {
	ID         string            `json:"id" bson:"_id,omitempty"`
	UserID     string            `json:"userId,omitempty" bson:"userId,omitempty"`
	SessionID  string            `json:"sessionId" bson:"sessionId"`
	Action     string            `json:"action" bson:"action"`
	TargetType string            `json:"targetType" bson:"targetType"`
	TargetID   string            `json:"targetId" bson:"targetId"`
	TargetName string            `json:"targetName,omitempty" bson:"targetName,omitempty"`
	Filters    map[string]string `json:"filters,omitempty" bson:"filters,omitempty"`
	Timestamp  time.Time         `json:"timestamp" bson:"timestamp"`
}

// SearchRecord is one SearchAnalytics entry.
type SearchRecord struct {
	ID               string            `json:"id" bson:"_id,omitempty"`
	Query            string            `json:"query" bson:"query"`
	NormalizedQuery  string            `json:"normalizedQuery" bson:"normalizedQuery"`
	ResultsCount     int               `json:"resultsCount" bson:"resultsCount"`
	Filters          map[string]string `json:"filters,omitempty" bson:"filters,omitempty"`
	UserID           string            `json:"userId,omitempty" bson:"userId,omitempty"`
	SessionID        string            `json:"sessionId" bson:"sessionId"`
	ConvertedToOrder bool              `json:"convertedToOrder" bson:"convertedToOrder"`
	Timestamp        time.Time         `json:"timestamp" bson:"timestamp"`
}

// AuditRecord is one AuditLog entry. Changes maps a field name to its
// before and after values.
type AuditRecord struct {
	ID         string                 `json:"id" bson:"_id,omitempty"`
	EntityType string                 `json:"entityType" bson:"entityType"`
	EntityID   string                 `json:"entityId" bson:"entityId"`
	ActorID    string                 `json:"actorId" bson:"actorId"`
	Action     string                 `json:"action" bson:"action"`
	Changes    map[string]FieldChange `json:"changes,omitempty" bson:"changes,omitempty"`
	Timestamp  time.Time              `json:"timestamp" bson:"timestamp"`
}

// FieldChange is the before/after diff of one audited field.
type FieldChange struct {
	Before any `json:"before" bson:"before"`
	After  any `json:"after" bson:"after"`
}

// OrderStatus values recognized by the dashboard rollup.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OrderSnapshotRecord is the denormalized copy of one order.
type OrderSnapshotRecord struct {
	OrderID    string      `json:"orderId" bson:"orderId"`
	UserID     string      `json:"userId" bson:"userId"`
	UserName   string      `json:"userName,omitempty" bson:"userName,omitempty"`
	UserEmail  string      `json:"userEmail,omitempty" bson:"userEmail,omitempty"`
	Status     string      `json:"status" bson:"status"`
	Items      []OrderItem `json:"items,omitempty" bson:"items,omitempty"`
	TotalPrice float64     `json:"totalPrice" bson:"totalPrice"`
	OrderDate  time.Time   `json:"orderDate" bson:"orderDate"`
	CreatedAt  time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt" bson:"updatedAt"`
}

// OrderItem is one line of an order snapshot.
type OrderItem struct {
	MenuID    int64   `json:"menuId" bson:"menuId"`
	MenuTitle string  `json:"menuTitle" bson:"menuTitle"`
	Quantity  int     `json:"quantity" bson:"quantity"`
	Price     float64 `json:"price" bson:"price"`
}

// MenuKey identifies one MenuAnalytics record.
type MenuKey struct {
	MenuID     int64
	Period     string
	PeriodType PeriodType
}

// MenuAnalyticsRecord holds the counters of one menu for one period.
type MenuAnalyticsRecord struct {
	MenuID        int64      `json:"menuId" bson:"menuId"`
	MenuTitle     string     `json:"menuTitle" bson:"menuTitle"`
	Period        string     `json:"period" bson:"period"`
	PeriodType    PeriodType `json:"periodType" bson:"periodType"`
	ViewCount     int64      `json:"viewCount" bson:"viewCount"`
	OrderCount    int64      `json:"orderCount" bson:"orderCount"`
	TotalRevenue  float64    `json:"totalRevenue" bson:"totalRevenue"`
	OrdersByDiet  CounterMap `json:"ordersByDiet" bson:"ordersByDiet"`
	OrdersByTheme CounterMap `json:"ordersByTheme" bson:"ordersByTheme"`
	PeakHours     []int      `json:"peakHours" bson:"peakHours"`
	RatingCount   int64      `json:"ratingCount" bson:"ratingCount"`
	RatingSum     float64    `json:"ratingSum" bson:"ratingSum"`
	AverageRating float64    `json:"averageRating" bson:"-"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// DeriveAverageRating fills AverageRating from the rating counters.
func (r *MenuAnalyticsRecord) DeriveAverageRating() {
	if r.RatingCount > 0 {
		r.AverageRating = r.RatingSum / float64(r.RatingCount)
	} else {
		r.AverageRating = 0
	}
}

// MenuDelta is one atomic change to a MenuAnalytics record. Zero fields are
// left untouched; Title is always set.
type MenuDelta struct {
	Title       string
	Views       int64
	Orders      int64
	Revenue     float64
	Diet        CounterMap
	Theme       CounterMap
	PeakHour    *int
	RatingCount int64
	RatingSum   float64
}

// Validate checks the nested counter keys and the peak hour.
func (d MenuDelta) Validate() error {
	if err := d.Diet.Validate(); err != nil {
		return err
	}
	if err := d.Theme.Validate(); err != nil {
		return err
	}
	if d.PeakHour != nil && (*d.PeakHour < 0 || *d.PeakHour > 23) {
		return fmt.Errorf("peak hour %d out of range 0-23", *d.PeakHour)
	}
	return nil
}

// DashboardStatsRecord is the rollup of one day of orders.
type DashboardStatsRecord struct {
	Date              string    `json:"date" bson:"date"`
	Type              string    `json:"type" bson:"type"`
	TotalOrders       int64     `json:"totalOrders" bson:"totalOrders"`
	CompletedOrders   int64     `json:"completedOrders" bson:"completedOrders"`
	CancelledOrders   int64     `json:"cancelledOrders" bson:"cancelledOrders"`
	PendingOrders     int64     `json:"pendingOrders" bson:"pendingOrders"`
	TotalRevenue      float64   `json:"totalRevenue" bson:"totalRevenue"`
	AverageOrderValue float64   `json:"averageOrderValue" bson:"averageOrderValue"`
	ComputedAt        time.Time `json:"computedAt" bson:"computedAt"`
}

// OrderSummary is the aggregate of order snapshots over a window.
type OrderSummary struct {
	TotalOrders     int64
	CompletedOrders int64
	CancelledOrders int64
	PendingOrders   int64
	TotalRevenue    float64
}

// PopularSearch is one normalized query with its occurrence count.
type PopularSearch struct {
	Query string `json:"query" bson:"_id"`
	Count int64  `json:"count" bson:"count"`
}

// CollectionStats is the raw size report of one category.
type CollectionStats struct {
	Count     int64
	SizeBytes int64
}

// IndexSpec describes one structural index of a category.
type IndexSpec struct {
	Name     string
	Category Category
	Fields   []string
	Unique   bool

	// TTL, when positive, makes this an auto-expiry index on its single
	// time field.
	TTL time.Duration
}

// Store is the contract every analytics backend implements. Counter writes
// must be atomic per key in the backend itself.
type Store interface {
	// Backend returns the backend name used in errors and metrics.
	Backend() string

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// CreateIndex creates one index. Existing indexes yield an IndexError
	// with Conflict set.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// ApplyMenuDelta upserts the record at key, seeding counters to zero on
	// insert, in a single atomic operation.
	ApplyMenuDelta(ctx context.Context, key MenuKey, delta MenuDelta, now time.Time) error

	// UpsertOrderSnapshot inserts or replaces the snapshot with the same OrderID.
	UpsertOrderSnapshot(ctx context.Context, rec *OrderSnapshotRecord) error

	// UpsertDashboardStats inserts or replaces the rollup with the same (Date, Type).
	UpsertDashboardStats(ctx context.Context, rec *DashboardStatsRecord) error

	// AppendActivity, AppendSearch and AppendAudit insert append-only records.
	AppendActivity(ctx context.Context, rec *ActivityRecord) error
	AppendSearch(ctx context.Context, rec *SearchRecord) error
	AppendAudit(ctx context.Context, rec *AuditRecord) error

	// MarkSearchesConverted flags searches of a session made at or after
	// since as converted to an order.
	MarkSearchesConverted(ctx context.Context, sessionID string, since time.Time) (int64, error)

	// DeleteOlderThan removes records of c whose time field is before cutoff.
	DeleteOlderThan(ctx context.Context, c Category, cutoff time.Time) (int64, error)

	// CollectionStats reports the record count and storage size of c.
	CollectionStats(ctx context.Context, c Category) (CollectionStats, error)

	// DatabaseSize reports the total storage size of the store in bytes.
	DatabaseSize(ctx context.Context) (int64, error)

	// SummarizeOrders aggregates order snapshots created at or after since.
	SummarizeOrders(ctx context.Context, since time.Time) (OrderSummary, error)

	// PopularSearches returns the most frequent normalized queries since a time.
	PopularSearches(ctx context.Context, since time.Time, limit int) ([]PopularSearch, error)

	// MenuAnalytics returns the records of one menu, most recent period first.
	MenuAnalytics(ctx context.Context, menuID int64, pt PeriodType, limit int) ([]*MenuAnalyticsRecord, error)

	// DashboardStats returns the rollup for (date, typ), or nil.
	DashboardStats(ctx context.Context, date, typ string) (*DashboardStatsRecord, error)

	// UserActivity returns a user's activity, newest first.
	UserActivity(ctx context.Context, userID string, limit int) ([]*ActivityRecord, error)

	// AuditTrail returns an entity's audit records, newest first.
	AuditTrail(ctx context.Context, entityType, entityID string, limit int) ([]*AuditRecord, error)

	// Close releases the backend connection.
	Close() error
}

// Provider hands out the store when it is reachable.
type Provider interface {
	// IsAvailable reports whether the store is connected.
	IsAvailable() bool

	// Store returns the connected store, or nil when unavailable.
	Store() Store
}

// BytesPerMB converts byte counts into megabytes.
const BytesPerMB = 1024 * 1024
