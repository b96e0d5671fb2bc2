package analytics

import (
	"fmt"
	"strings"
)

// Category is one logical record type managed by the retention engine.
type Category int

const (
	// UserActivityLog holds append-only user actions (views, clicks, filters).
	UserActivityLog Category = iota + 1

	// SearchAnalytics holds append-only search queries.
	SearchAnalytics

	// AuditLog holds append-only entity change records.
	AuditLog

	// OrderSnapshot holds one denormalized document per order.
	OrderSnapshot

	// MenuAnalytics holds per-menu counters for a period.
	MenuAnalytics

	// DashboardStats holds per-day order rollups.
	DashboardStats
)

// categoryInfo is the single lookup table behind a Category.
type categoryInfo struct {
	name       string
	collection string
	timeField  string
}

var categoryTable = map[Category]categoryInfo{
	UserActivityLog: {name: "user_activity_log", collection: "user_activity_logs", timeField: "timestamp"},
	SearchAnalytics: {name: "search_analytics", collection: "search_analytics", timeField: "timestamp"},
	AuditLog:        {name: "audit_log", collection: "audit_logs", timeField: "timestamp"},
	OrderSnapshot:   {name: "order_snapshot", collection: "order_snapshots", timeField: "createdAt"},
	MenuAnalytics:   {name: "menu_analytics", collection: "menu_analytics", timeField: "updatedAt"},
	DashboardStats:  {name: "dashboard_stats", collection: "dashboard_stats", timeField: "computedAt"},
}

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	return []Category{
		UserActivityLog,
		SearchAnalytics,
		AuditLog,
		OrderSnapshot,
		MenuAnalytics,
		DashboardStats,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryTable[c]
	return ok
}

// String returns the snake_case name of the category.
func (c Category) String() string {
	if info, ok := categoryTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Collection returns the backend collection (or table) name.
func (c Category) Collection() string {
	return categoryTable[c].collection
}

// TimeField returns the document field used for retention cutoffs.
func (c Category) TimeField() string {
	return categoryTable[c].timeField
}

// MarshalText implements encoding.TextMarshaler so categories render by name
// in JSON map keys and config files.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory resolves a category from its name or collection name.
// Matching is case-insensitive and accepts "-" in place of "_".
func ParseCategory(s string) (Category, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for c, info := range categoryTable {
		if key == info.name || key == info.collection {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}
