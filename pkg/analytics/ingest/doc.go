// Package ingest is the append-only half of the analytics write path.
//
// The Ingestor writes activity, search and audit records and order
// snapshots. Records get a UUID and the current time when the caller leaves
// them empty. Nothing is deduplicated.
//
// Every method returns an analytics.Result and never an error: a store that
// is down yields Skipped, a failed write yields Failed. Producers are free to
// ignore the result.
//
// # Asynchronous dispatch
//
// The Dispatcher moves writes off the caller's goroutine:
//
//	d := ingest.NewDispatcher(&ingest.DispatcherConfig{BufferSize: 1000, Workers: 4}, collector)
//	defer d.Close()
//
//	d.Submit(analytics.SearchAnalytics, func(ctx context.Context) analytics.Result {
//		return ingestor.TrackSearch(ctx, rec)
//	})
//
// Submit never blocks. A full queue drops the write, logs it and counts it
// in the ingest_dropped_total metric. Close drains the queue before
// returning.
package ingest
