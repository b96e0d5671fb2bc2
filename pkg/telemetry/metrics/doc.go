// Package metrics provides Prometheus metrics collection for tally.
//
// # Metrics Categories
//
//   - Storage Metrics: store size, usage percent, budget, per-category
//     records and size, store availability
//   - Cleanup Metrics: passes by mode and outcome, duration, freed storage,
//     deleted records, failed category deletes
//   - Ingest Metrics: writes by category and outcome, dropped writes,
//     dispatch queue depth
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	collector.UpdateStorageUsage(382.5, 85.0, 450)
//	collector.RecordDeleted("user_activity_log", "threshold", 1200)
//	collector.RecordCleanup("threshold", "cleaned", 3*time.Second, 41.2)
//	collector.RecordIngest("search_analytics", "ok")
//
// All metrics live on a private registry and are exposed by Handler:
//
//	# HELP tally_analytics_storage_used_percent Analytics store size as a percentage of the storage budget
//	# TYPE tally_analytics_storage_used_percent gauge
//	tally_analytics_storage_used_percent 85
//
// A nil *Collector is valid and records nothing. Setting
// telemetry.metrics.enabled to false has the same effect on a live
// collector.
//
// Label values are drawn from closed sets (category names, cleanup modes,
// outcomes), so cardinality is bounded.
package metrics
