// Package health provides liveness and readiness endpoints for tally.
//
// # Endpoints
//
//   - /health: liveness, always ok while the process runs
//   - /ready: readiness, runs every registered check
//   - /version: build information
//
// # Degraded checks
//
// The analytics store is optional for the host: when it is down, writes are
// skipped and reads return empty results. Its check therefore reports
// "degraded" instead of "unhealthy", and /ready keeps answering 200:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("analytics_store", health.StoreCheck(manager))
//
//	mux.HandleFunc("/health", checker.LivenessHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
//
// Custom checks return Degraded(err) for the same behavior. Any other error
// makes the process unhealthy and /ready answers 503.
package health
