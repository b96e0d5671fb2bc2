// Package analytics defines the record categories, retention policy, and
// storage contract of the analytics store.
//
// The analytics store is a secondary, size-constrained document store that
// sits next to the primary relational database. It holds denormalized
// counters (menu analytics, dashboard rollups), append-only logs (user
// activity, searches, audits) and order snapshots. The store runs under a
// hard capacity budget, so every category carries a retention period and a
// cleanup priority used by the retention engine.
//
// # Categories
//
// Six categories are managed, listed here in cleanup priority order
// (evicted first to last):
//
//	UserActivityLog   30 days   append-only, keyed by timestamp
//	SearchAnalytics   30 days   append-only, keyed by timestamp
//	AuditLog          90 days   append-only, 90 day compliance floor
//	OrderSnapshot    180 days   unique by orderId
//	MenuAnalytics    365 days   unique by (menuId, period, periodType)
//	DashboardStats   365 days   unique by (date, type)
//
// # Storage
//
// Backends implement Store. Counter updates are expressed as a MenuDelta and
// applied by the backend in a single atomic upsert, so concurrent writers
// never need application-level locks. Nested counters (orders by diet, by
// theme) are carried as CounterMap values and only turned into backend field
// paths inside the storage adapter, after their keys are validated.
//
// # Availability
//
// The store is optional for the host application. Components obtain the
// store through a Provider and treat an unavailable store as a no-op,
// reporting a Skipped Result instead of an error.
package analytics
