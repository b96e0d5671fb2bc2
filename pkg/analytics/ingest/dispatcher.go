package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// Job is one queued write.
type Job func(ctx context.Context) analytics.Result

// DispatcherConfig contains configuration for the dispatcher.
type DispatcherConfig struct {
	// BufferSize is the queue capacity.
	// Default: 1000
	BufferSize int

	// Workers is the number of goroutines draining the queue.
	// Default: 4
	Workers int

	// WriteTimeout bounds a single job.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		BufferSize:   1000,
		Workers:      4,
		WriteTimeout: 5 * time.Second,
	}
}

type task struct {
	category analytics.Category
	job      Job
}

// Dispatcher runs writes on a worker pool so producers never wait on the
// store. Submit never blocks: when the queue is full the write is dropped.
type Dispatcher struct {
	config  *DispatcherConfig
	queue   chan task
	done    chan struct{}
	wg      sync.WaitGroup
	metrics *metrics.Collector
	logger  *slog.Logger

	// mu orders Submit against Close so no job lands after the workers exit.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewDispatcher starts the worker pool. collector may be nil.
func NewDispatcher(config *DispatcherConfig, collector *metrics.Collector) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config == nil {
		config = defaults
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	d := &Dispatcher{
		config:  config,
		queue:   make(chan task, config.BufferSize),
		done:    make(chan struct{}),
		metrics: collector,
		logger:  slog.Default().With("component", "analytics.ingest.dispatcher"),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info("ingest dispatcher started",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
		"write_timeout", config.WriteTimeout,
	)

	return d
}

// Submit enqueues job and reports whether it was accepted. Jobs submitted
// after Close, or while the queue is full, are dropped.
func (d *Dispatcher) Submit(c analytics.Category, job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(c, "dispatcher closed")
		return false
	}

	select {
	case d.queue <- task{category: c, job: job}:
		d.metrics.UpdateQueueDepth(len(d.queue))
		return true
	default:
		d.drop(c, "queue full")
		return false
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Close stops accepting jobs, runs everything already queued and waits for
// the workers to exit.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()

		d.logger.Info("draining ingest queue", "pending_count", len(d.queue))
		d.wg.Wait()
		d.metrics.UpdateQueueDepth(0)
		d.logger.Info("ingest dispatcher stopped")
	})
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case t := <-d.queue:
			d.run(t)
		case <-d.done:
			for {
				select {
				case t := <-d.queue:
					d.run(t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(t task) {
	d.metrics.UpdateQueueDepth(len(d.queue))

	ctx, cancel := context.WithTimeout(context.Background(), d.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	res := t.job(ctx)
	duration := time.Since(start)

	if res.IsFailed() {
		d.logger.Debug("queued write failed",
			"category", t.category.String(),
			"error", res.Err,
		)
	}
	if duration > d.config.WriteTimeout/2 {
		d.logger.Warn("slow analytics write",
			"category", t.category.String(),
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (d.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}

func (d *Dispatcher) drop(c analytics.Category, reason string) {
	d.metrics.RecordIngestDrop(c.String())
	d.logger.Warn("dropping analytics write",
		"category", c.String(),
		"reason", reason,
		"queue_capacity", d.config.BufferSize,
	)
}
