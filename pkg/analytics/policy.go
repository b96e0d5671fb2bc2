package analytics

import (
	"fmt"
	"time"
)

const (
	// AuditComplianceFloorDays is the minimum audit retention unless a
	// compliance override is set.
	AuditComplianceFloorDays = 90

	// EmergencyMinDays is the shortest retention an emergency pass may use.
	EmergencyMinDays = 7
)

// defaultRetentionDays maps each category to its reference retention period.
var defaultRetentionDays = map[Category]int{
	UserActivityLog: 30,
	SearchAnalytics: 30,
	AuditLog:        90,
	OrderSnapshot:   180,
	MenuAnalytics:   365,
	DashboardStats:  365,
}

// defaultPriority lists categories from evicted first to evicted last.
var defaultPriority = []Category{
	UserActivityLog,
	SearchAnalytics,
	AuditLog,
	OrderSnapshot,
	MenuAnalytics,
	DashboardStats,
}

// Policy is the retention policy table: one retention period per category
// and one ordered cleanup priority list. A Policy is immutable once built;
// use WithOverrides to derive a new one.
type Policy struct {
	retention          map[Category]int
	priority           []Category
	complianceOverride bool
}

// DefaultPolicy returns the reference retention policy.
func DefaultPolicy() *Policy {
	retention := make(map[Category]int, len(defaultRetentionDays))
	for c, d := range defaultRetentionDays {
		retention[c] = d
	}
	return &Policy{
		retention: retention,
		priority:  append([]Category(nil), defaultPriority...),
	}
}

// WithOverrides returns a copy of p with the given retention periods
// replaced. AuditLog may only go below AuditComplianceFloorDays when
// complianceOverride is true.
func (p *Policy) WithOverrides(days map[Category]int, complianceOverride bool) (*Policy, error) {
	next := &Policy{
		retention:          make(map[Category]int, len(p.retention)),
		priority:           append([]Category(nil), p.priority...),
		complianceOverride: complianceOverride,
	}
	for c, d := range p.retention {
		next.retention[c] = d
	}

	for c, d := range days {
		if !c.Valid() {
			return nil, NewPolicyError(c, d, "unknown category")
		}
		if d < 1 {
			return nil, NewPolicyError(c, d, "retention must be at least 1 day")
		}
		if c == AuditLog && d < AuditComplianceFloorDays && !complianceOverride {
			return nil, NewPolicyError(c, d,
				fmt.Sprintf("audit retention below %d days requires a compliance override", AuditComplianceFloorDays))
		}
		next.retention[c] = d
	}

	return next, nil
}

// RetentionDays returns the retention period of c in days.
func (p *Policy) RetentionDays(c Category) int {
	return p.retention[c]
}

// EmergencyDays returns the halved retention period used by an emergency
// pass, never shorter than EmergencyMinDays.
func (p *Policy) EmergencyDays(c Category) int {
	return max(EmergencyMinDays, p.retention[c]/2)
}

// Priority returns the cleanup order, evicted first to evicted last.
func (p *Policy) Priority() []Category {
	return append([]Category(nil), p.priority...)
}

// ComplianceOverride reports whether the audit floor was lifted.
func (p *Policy) ComplianceOverride() bool {
	return p.complianceOverride
}

// TTL returns the retention period of c as a duration.
func (p *Policy) TTL(c Category) time.Duration {
	return time.Duration(p.retention[c]) * 24 * time.Hour
}

// Cutoff returns the instant before which records are eligible for deletion
// when keeping the given number of days.
func Cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
