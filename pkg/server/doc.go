// Package server provides the ops HTTP server of a tally process.
//
// # Routes
//
//	GET  /health                 liveness
//	GET  /ready                  readiness (degraded, still 200, when the store is down)
//	GET  /version                build information
//	GET  /metrics                Prometheus scrape endpoint
//	GET  /v1/storage/stats       current capacity report
//	POST /v1/storage/cleanup     threshold-triggered cleanup pass
//	POST /v1/storage/emergency   emergency pass; requires ?confirm=true
//	GET  /v1/searches/popular    most frequent searches (?days=7&limit=10)
//
// Cleanup requests run synchronously and return the cleanup report. When
// the analytics store is unavailable they answer 503 with a skipped report.
//
// # Middleware
//
// Every request passes through, outermost first: panic recovery, request
// ID (X-Request-ID, generated when absent) and structured request logging.
//
// # Usage
//
//	srv := server.NewServer(&cfg.Server, &server.Routes{
//	    Ops:     svc,
//	    Health:  checker,
//	    Metrics: svc.Metrics().Handler(),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// Start blocks until ctx is cancelled, then shuts down gracefully within
// ShutdownTimeout. The server listens on loopback by default and carries no
// authentication; expose it only on a trusted network.
package server
