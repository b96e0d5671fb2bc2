package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/tally/pkg/analytics"
)

// Connector is the part of the connection manager the scheduler needs:
// each tick first makes sure the store is (or is becoming) reachable, and
// the startup check waits for the first connection.
type Connector interface {
	EnsureConnected(ctx context.Context) bool
	Connect(ctx context.Context) error
}

// DefaultStartupWait bounds how long the startup check waits for the store.
const DefaultStartupWait = 2 * time.Minute

// DashboardRefresher recomputes today's dashboard rollup.
type DashboardRefresher interface {
	UpdateDashboardStats(ctx context.Context) analytics.Result
}

// SchedulerConfig contains the scheduler settings.
type SchedulerConfig struct {
	// Schedule is the cron expression for capacity checks. Empty disables
	// the recurring check.
	// Example: "0 */6 * * *" (every six hours)
	Schedule string

	// RunOnStartup runs one capacity check as soon as the store is first
	// reachable after Start.
	RunOnStartup bool

	// StartupWait bounds the wait for the store before the startup check
	// gives up and leaves the work to the schedule.
	// Default: 2 minutes
	StartupWait time.Duration

	// DashboardSchedule is the cron expression for dashboard refreshes.
	// Empty disables the job.
	DashboardSchedule string
}

// Scheduler runs CheckAndCleanupStorage on a cron schedule and, optionally,
// refreshes the dashboard rollup on a second schedule.
type Scheduler struct {
	engine    *Engine
	connector Connector
	dashboard DashboardRefresher
	config    SchedulerConfig

	cron    *cron.Cron
	checkID cron.EntryID
	cancel  context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a new retention scheduler. connector and dashboard
// may be nil.
func NewScheduler(engine *Engine, connector Connector, dashboard DashboardRefresher, cfg SchedulerConfig) *Scheduler {
	logger := slog.Default().With("component", "analytics.scheduler")
	cl := cronLogger{logger: logger}

	return &Scheduler{
		engine:    engine,
		connector: connector,
		dashboard: dashboard,
		config:    cfg,
		cron:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron loop. It returns at once;
// the scheduler stops when ctx is cancelled or Stop is called.
//
// The capacity check and the dashboard refresh are registered
// independently; an empty schedule disables only its own job. With no job
// and no startup check the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	checkOn := s.config.Schedule != ""
	dashboardOn := s.dashboard != nil && s.config.DashboardSchedule != ""
	if !checkOn && !dashboardOn && !s.config.RunOnStartup {
		s.logger.Info("no retention jobs configured, skipping scheduler")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	if checkOn {
		if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
			cancel()
			return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
		}
		id, err := s.cron.AddFunc(s.config.Schedule, func() {
			s.runCheck(ctx)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("failed to schedule storage check: %w", err)
		}
		s.checkID = id
	}

	if dashboardOn {
		if _, err := s.cron.AddFunc(s.config.DashboardSchedule, func() {
			s.runDashboard(ctx)
		}); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule dashboard refresh %q: %w", s.config.DashboardSchedule, err)
		}
	}

	s.cron.Start()
	s.cancel = cancel
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.config.Schedule,
		"dashboard_schedule", s.config.DashboardSchedule,
		"run_on_startup", s.config.RunOnStartup,
	)

	if s.config.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runStartupCheck(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runStartupCheck waits, within StartupWait, for the store to come up and
// then runs one capacity check.
func (s *Scheduler) runStartupCheck(ctx context.Context) {
	if s.connector != nil {
		wait := s.config.StartupWait
		if wait <= 0 {
			wait = DefaultStartupWait
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		err := s.connector.Connect(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("analytics store not reachable, startup storage check left to the schedule",
					"waited", wait,
					"error", err,
				)
			}
			return
		}
	}
	s.runCheck(ctx)
}

// RunNow performs one scheduled check synchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runCheck(ctx)
}

// runCheck executes one capacity check.
func (s *Scheduler) runCheck(ctx context.Context) {
	if s.connector != nil && !s.connector.EnsureConnected(ctx) {
		s.logger.Warn("analytics store unavailable, skipping scheduled storage check")
		return
	}

	report, err := s.engine.CheckAndCleanupStorage(ctx)
	if err != nil {
		s.logger.Error("scheduled storage check failed", "error", err)
		return
	}

	switch {
	case report.Skipped:
		s.logger.Debug("scheduled storage check skipped")
	case report.Cleaned:
		s.logger.Info("scheduled storage check cleaned",
			"deleted_count", report.DeletedCount,
			"freed_mb", report.FreedMB,
			"failed_categories", len(report.Errors),
		)
	default:
		s.logger.Debug("scheduled storage check completed, no cleanup needed",
			"used_percentage", report.UsedPercentageBefore,
		)
	}
}

func (s *Scheduler) runDashboard(ctx context.Context) {
	if s.connector != nil && !s.connector.EnsureConnected(ctx) {
		return
	}
	if res := s.dashboard.UpdateDashboardStats(ctx); res.IsFailed() {
		s.logger.Warn("scheduled dashboard refresh failed", "error", res.Err)
	}
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		s.cancel()
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.wg.Wait()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled storage check.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.checkID == 0 {
		return nil
	}

	next := s.cron.Entry(s.checkID).Next
	return &next
}

// cronLogger routes cron's internal messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
