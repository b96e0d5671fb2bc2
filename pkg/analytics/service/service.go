// Package service assembles the analytics components around one connection
// manager and exposes the producer-facing fire-and-forget API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/aggregator"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/analytics/client"
	"mercator-hq/tally/pkg/analytics/ingest"
	"mercator-hq/tally/pkg/analytics/query"
	"mercator-hq/tally/pkg/analytics/retention"
	"mercator-hq/tally/pkg/analytics/schema"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// schemaTimeout bounds index creation after each (re)connect.
const schemaTimeout = 2 * time.Minute

// Options overrides parts of the assembly. Zero values build everything
// from the configuration.
type Options struct {
	// Dialer replaces the backend selected by the store configuration.
	Dialer client.Dialer

	// Manager replaces the connection manager; Dialer is then ignored.
	Manager *client.Manager

	// Metrics is the collector shared by all components. Nil builds one
	// from the telemetry configuration.
	Metrics *metrics.Collector
}

// Service is the analytics subsystem of one process.
type Service struct {
	config  *config.Config
	logger  *slog.Logger
	manager *client.Manager
	metrics *metrics.Collector

	writer     *aggregator.Writer
	ingestor   *ingest.Ingestor
	dispatcher *ingest.Dispatcher
	monitor    *capacity.Monitor
	engine     *retention.Engine
	scheduler  *retention.Scheduler
	reader     *query.Reader

	// registry follows the retention policy so TTL indexes track reloads.
	registry atomic.Pointer[schema.Registry]

	writeTimeout time.Duration
}

// New wires every component. Nothing connects until Start or Connect.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	policy, err := cfg.Retention.RetentionPolicy()
	if err != nil {
		return nil, fmt.Errorf("invalid retention policy: %w", err)
	}

	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	manager := opts.Manager
	if manager == nil {
		dial := opts.Dialer
		if dial == nil {
			dial, err = NewDialer(&cfg.Store)
			if err != nil {
				return nil, err
			}
		}
		manager = client.NewManager(dial, ReconnectConfig(&cfg.Store.Reconnect))
	}

	s := &Service{
		config:       cfg,
		logger:       slog.Default().With("component", "analytics.service"),
		manager:      manager,
		metrics:      collector,
		writeTimeout: cfg.Ingest.WriteTimeout,
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = config.DefaultIngestWriteTimeout
	}

	s.registry.Store(schema.NewRegistry(policy))
	manager.OnStateChange(func(available bool) {
		collector.UpdateStoreAvailable(available)
		if !available {
			s.logger.Warn("analytics store became unavailable")
			return
		}
		s.applySchema()
	})
	collector.UpdateStoreAvailable(manager.IsAvailable())

	s.writer = aggregator.NewWriter(manager, collector)
	s.ingestor = ingest.NewIngestor(manager, s.writer, collector)
	s.monitor = capacity.NewMonitor(manager, cfg.Capacity.MaxStorageMB, collector)
	s.engine = retention.NewEngine(manager, s.monitor, retention.Config{
		ThresholdPercent: cfg.Capacity.CleanupThresholdPercent,
		Policy:           policy,
	}, collector)
	s.scheduler = retention.NewScheduler(s.engine, manager, s.writer, retention.SchedulerConfig{
		Schedule:          cfg.Retention.CheckSchedule(),
		RunOnStartup:      config.BoolValue(cfg.Retention.RunOnStartup, config.DefaultRetentionRunOnStartup),
		StartupWait:       cfg.Retention.StartupWait,
		DashboardSchedule: cfg.Retention.DashboardRefreshSchedule(),
	})
	s.reader = query.NewReader(manager, query.Limits{
		Default: cfg.Query.DefaultLimit,
		Max:     cfg.Query.MaxLimit,
	})

	if config.BoolValue(cfg.Ingest.Async, config.DefaultIngestAsync) {
		s.dispatcher = ingest.NewDispatcher(&ingest.DispatcherConfig{
			BufferSize:   cfg.Ingest.BufferSize,
			Workers:      cfg.Ingest.Workers,
			WriteTimeout: s.writeTimeout,
		}, collector)
	}

	return s, nil
}

// Start connects in the background and starts the retention scheduler. It
// returns at once; the host never waits on the analytics store.
func (s *Service) Start(ctx context.Context) error {
	s.manager.Start(ctx)
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}
	s.logger.Info("analytics service started",
		"backend", s.config.Store.Backend,
		"max_storage_mb", s.monitor.MaxStorageMB(),
		"threshold_percent", s.engine.ThresholdPercent(),
		"schedule", s.config.Retention.Schedule,
	)
	return nil
}

// Connect blocks until the store is reachable or the reconnect budget runs
// out. One-shot commands use it instead of Start.
func (s *Service) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// Close stops the scheduler, drains queued writes and closes the store.
func (s *Service) Close() error {
	s.scheduler.Stop()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	return s.manager.Close()
}

// ApplyConfig applies the hot-reloadable settings of cfg: the storage
// budget, the cleanup threshold and the retention overrides. TTL indexes
// are re-applied so server-side expiry follows the new retention periods.
// Store and schedule settings need a restart.
func (s *Service) ApplyConfig(cfg *config.Config) {
	policy, err := cfg.Retention.RetentionPolicy()
	if err != nil {
		s.logger.Warn("ignoring retention overrides from reloaded config", "error", err)
	} else {
		s.engine.SetPolicy(policy)
		s.registry.Store(schema.NewRegistry(policy))
		if s.manager.IsAvailable() {
			s.applySchema()
		}
	}
	s.monitor.SetMaxStorageMB(cfg.Capacity.MaxStorageMB)
	s.engine.SetThresholdPercent(cfg.Capacity.CleanupThresholdPercent)

	s.logger.Info("analytics settings reloaded",
		"max_storage_mb", s.monitor.MaxStorageMB(),
		"threshold_percent", s.engine.ThresholdPercent(),
	)
}

// applySchema creates the indexes of the current registry on the store.
func (s *Service) applySchema() {
	store := s.manager.Store()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	schema.Apply(ctx, store, s.registry.Load())
}

// Provider returns the availability gate.
func (s *Service) Provider() analytics.Provider { return s.manager }

// Manager returns the connection manager.
func (s *Service) Manager() *client.Manager { return s.manager }

// Metrics returns the shared collector.
func (s *Service) Metrics() *metrics.Collector { return s.metrics }

// Engine returns the cleanup engine.
func (s *Service) Engine() *retention.Engine { return s.engine }

// Scheduler returns the retention scheduler.
func (s *Service) Scheduler() *retention.Scheduler { return s.scheduler }

// Reader returns the read API.
func (s *Service) Reader() *query.Reader { return s.reader }

// GetStorageStats reports current usage.
func (s *Service) GetStorageStats(ctx context.Context) (*capacity.Stats, error) {
	return s.monitor.GetStorageStats(ctx)
}

// CheckAndCleanupStorage runs a threshold-triggered pass.
func (s *Service) CheckAndCleanupStorage(ctx context.Context) (*retention.Report, error) {
	return s.engine.CheckAndCleanupStorage(ctx)
}

// EmergencyCleanup runs the halved-retention pass over every category.
func (s *Service) EmergencyCleanup(ctx context.Context) (*retention.Report, error) {
	return s.engine.EmergencyCleanup(ctx)
}

// UpdateDashboardStats recomputes today's dashboard rollup synchronously.
func (s *Service) UpdateDashboardStats(ctx context.Context) analytics.Result {
	return s.writer.UpdateDashboardStats(ctx)
}

// TrackMenuView counts a menu view and logs it as user activity.
func (s *Service) TrackMenuView(ctx context.Context, userID string, menuID int64, title, sessionID string) {
	s.dispatch(ctx, analytics.MenuAnalytics, func(ctx context.Context) analytics.Result {
		return s.ingestor.TrackMenuView(ctx, userID, menuID, title, sessionID)
	})
}

// RecordMenuOrder counts an order of a menu.
func (s *Service) RecordMenuOrder(ctx context.Context, menuID int64, title string, revenue float64, diet, theme string) {
	s.dispatch(ctx, analytics.MenuAnalytics, func(ctx context.Context) analytics.Result {
		return s.writer.RecordMenuOrder(ctx, menuID, title, revenue, diet, theme)
	})
}

// RecordMenuRating adds a rating to a menu.
func (s *Service) RecordMenuRating(ctx context.Context, menuID int64, title string, rating float64) {
	s.dispatch(ctx, analytics.MenuAnalytics, func(ctx context.Context) analytics.Result {
		return s.writer.RecordMenuRating(ctx, menuID, title, rating)
	})
}

// LogActivity appends a user activity record.
func (s *Service) LogActivity(ctx context.Context, rec analytics.ActivityRecord) {
	s.dispatch(ctx, analytics.UserActivityLog, func(ctx context.Context) analytics.Result {
		return s.ingestor.LogActivity(ctx, &rec)
	})
}

// TrackSearch appends a search record.
func (s *Service) TrackSearch(ctx context.Context, rec analytics.SearchRecord) {
	s.dispatch(ctx, analytics.SearchAnalytics, func(ctx context.Context) analytics.Result {
		return s.ingestor.TrackSearch(ctx, &rec)
	})
}

// MarkSearchConverted flags the session's recent searches as converted.
func (s *Service) MarkSearchConverted(ctx context.Context, sessionID string) {
	s.dispatch(ctx, analytics.SearchAnalytics, func(ctx context.Context) analytics.Result {
		return s.ingestor.MarkSearchConverted(ctx, sessionID)
	})
}

// LogAudit appends an audit record.
func (s *Service) LogAudit(ctx context.Context, rec analytics.AuditRecord) {
	s.dispatch(ctx, analytics.AuditLog, func(ctx context.Context) analytics.Result {
		return s.ingestor.LogAudit(ctx, &rec)
	})
}

// SnapshotOrder upserts an order snapshot.
func (s *Service) SnapshotOrder(ctx context.Context, rec analytics.OrderSnapshotRecord) {
	s.dispatch(ctx, analytics.OrderSnapshot, func(ctx context.Context) analytics.Result {
		return s.ingestor.SnapshotOrder(ctx, &rec)
	})
}

// dispatch queues job, or runs it inline when async ingest is disabled.
// Either way the caller's cancellation does not abort the write.
func (s *Service) dispatch(ctx context.Context, c analytics.Category, job ingest.Job) {
	if !s.manager.IsAvailable() {
		s.metrics.RecordIngest(c.String(), analytics.StatusSkipped.String())
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Submit(c, job)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	job(writeCtx)
}
