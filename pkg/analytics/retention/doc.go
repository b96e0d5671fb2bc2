// Package retention keeps the analytics store inside its storage budget.
//
// The Engine has two passes. CheckAndCleanupStorage does nothing until
// usage reaches the cleanup threshold (85% by default). Once triggered it
// walks the categories from cheapest to most valuable:
//
//	user_activity_log, search_analytics, audit_log,
//	order_snapshot, menu_analytics, dashboard_stats
//
// and deletes records older than each category's retention period. Usage is
// re-read before every category and the pass stops as soon as usage is
// under the 70% safety margin.
//
// EmergencyCleanup is the operator's lever: it ignores the threshold, visits
// every category and keeps only max(7, retention/2) days.
//
// Both passes share one mutex. A delete that fails for one category is
// recorded as an analytics.CleanupError in the Report and the pass moves on.
//
// The Scheduler runs CheckAndCleanupStorage on a cron expression (every six
// hours by default) and once at startup, as soon as the store is reachable.
// The dashboard refresh has its own schedule; either job can be left empty.
//
//	engine := retention.NewEngine(manager, monitor, retention.Config{ThresholdPercent: 85}, collector)
//	sched := retention.NewScheduler(engine, manager, writer, retention.SchedulerConfig{
//		Schedule:     "0 */6 * * *",
//		RunOnStartup: true,
//	})
//	if err := sched.Start(ctx); err != nil {
//		return err
//	}
//	defer sched.Stop()
package retention
