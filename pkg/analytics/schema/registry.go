// Package schema enumerates the structural indexes of the analytics store
// and applies them to a backend.
package schema

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/tally/pkg/analytics"
)

// uniqueKeys lists the upsert identity of each keyed category.
var uniqueKeys = map[analytics.Category][]string{
	analytics.MenuAnalytics:  {"menuId", "period", "periodType"},
	analytics.OrderSnapshot:  {"orderId"},
	analytics.DashboardStats: {"date", "type"},
}

// lookupKeys lists secondary indexes serving the read paths.
var lookupKeys = map[analytics.Category][][]string{
	analytics.UserActivityLog: {{"userId", "timestamp"}},
	analytics.SearchAnalytics: {{"sessionId", "timestamp"}, {"normalizedQuery"}},
	analytics.AuditLog:        {{"entityType", "entityId", "timestamp"}},
}

// Registry builds the index set for a retention policy.
type Registry struct {
	policy *analytics.Policy
}

// NewRegistry creates a registry for policy. A nil policy uses the defaults.
func NewRegistry(policy *analytics.Policy) *Registry {
	if policy == nil {
		policy = analytics.DefaultPolicy()
	}
	return &Registry{policy: policy}
}

// Indexes returns every index, category by category: the TTL index on the
// time field first, then uniqueness, then lookup indexes.
func (r *Registry) Indexes() []analytics.IndexSpec {
	var specs []analytics.IndexSpec
	for _, c := range analytics.AllCategories() {
		specs = append(specs, r.IndexesFor(c)...)
	}
	return specs
}

// IndexesFor returns the indexes of one category.
func (r *Registry) IndexesFor(c analytics.Category) []analytics.IndexSpec {
	specs := []analytics.IndexSpec{{
		Name:     fmt.Sprintf("%s_ttl", c.TimeField()),
		Category: c,
		Fields:   []string{c.TimeField()},
		TTL:      r.policy.TTL(c),
	}}

	if fields, ok := uniqueKeys[c]; ok {
		specs = append(specs, analytics.IndexSpec{
			Name:     indexName(fields, "uniq"),
			Category: c,
			Fields:   fields,
			Unique:   true,
		})
	}

	for _, fields := range lookupKeys[c] {
		specs = append(specs, analytics.IndexSpec{
			Name:     indexName(fields, "idx"),
			Category: c,
			Fields:   fields,
		})
	}

	return specs
}

// UniqueKey returns the upsert identity of c, or nil for append-only
// categories.
func UniqueKey(c analytics.Category) []string {
	return uniqueKeys[c]
}

func indexName(fields []string, suffix string) string {
	name := ""
	for _, f := range fields {
		name += f + "_"
	}
	return name + suffix
}

// Report summarizes one Apply run.
type Report struct {
	Created   int
	Conflicts int
	Failed    int
}

// Apply creates every index on store. Failures are logged, never returned:
// a missing index degrades performance, not correctness of the host.
func Apply(ctx context.Context, store analytics.Store, registry *Registry) Report {
	logger := slog.Default().With("component", "analytics.schema")

	var report Report
	for _, spec := range registry.Indexes() {
		err := store.CreateIndex(ctx, spec)
		switch {
		case err == nil:
			report.Created++
		case analytics.IsIndexConflict(err):
			report.Conflicts++
			logger.Debug("index already exists",
				"category", spec.Category.String(),
				"index", spec.Name,
				"error", err,
			)
		default:
			report.Failed++
			logger.Warn("failed to create index",
				"category", spec.Category.String(),
				"index", spec.Name,
				"error", err,
			)
		}
	}

	logger.Info("analytics indexes applied",
		"backend", store.Backend(),
		"created", report.Created,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
	)

	return report
}
