package analytics

import (
	"fmt"
	"time"
)

// PeriodType selects the bucket width of a MenuAnalytics record.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Valid reports whether pt is a known period type.
func (pt PeriodType) Valid() bool {
	switch pt {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// FormatPeriod returns the canonical period string for t:
//
//	daily   2006-01-02
//	weekly  2006-W02 (ISO-8601 week-numbering year and week)
//	monthly 2006-01
//
// The result depends only on t's wall clock in its own location.
func FormatPeriod(t time.Time, pt PeriodType) (string, error) {
	switch pt {
	case PeriodDaily:
		return t.Format("2006-01-02"), nil
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case PeriodMonthly:
		return t.Format("2006-01"), nil
	}
	return "", fmt.Errorf("unknown period type %q", pt)
}

// DailyPeriod is FormatPeriod(t, PeriodDaily).
func DailyPeriod(t time.Time) string {
	return t.Format("2006-01-02")
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
