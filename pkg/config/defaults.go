package config

import "time"

// Default values for configuration fields.
const (
	// Store defaults
	DefaultStoreBackend                = "sqlite"
	DefaultStoreDatabase               = "analytics"
	DefaultStoreConnectTimeout         = 10 * time.Second
	DefaultStoreServerSelectionTimeout = 5 * time.Second
	DefaultStoreMaxPoolSize            = uint64(10)
	DefaultSQLitePath                  = "data/analytics.db"
	DefaultSQLiteDriver                = "sqlite"
	DefaultSQLiteMaxOpenConns          = 4
	DefaultSQLiteMaxIdleConns          = 2
	DefaultSQLiteWALMode               = true
	DefaultSQLiteBusyTimeout           = 5 * time.Second

	// Reconnect defaults
	DefaultReconnectInitialInterval = time.Second
	DefaultReconnectMultiplier      = 2.0
	DefaultReconnectMaxInterval     = time.Minute
	DefaultReconnectMaxElapsedTime  = 10 * time.Minute
	DefaultReconnectPingTimeout     = 5 * time.Second

	// Capacity defaults
	DefaultMaxStorageMB            = 450.0
	DefaultCleanupThresholdPercent = 85.0

	// Retention defaults
	DefaultRetentionSchedule     = "0 */6 * * *"
	DefaultRetentionRunOnStartup = true
	DefaultRetentionStartupWait  = 2 * time.Minute
	DefaultDashboardSchedule     = "*/15 * * * *"

	// ScheduleOff disables a retention job.
	ScheduleOff = "off"

	// Ingest defaults
	DefaultIngestAsync        = true
	DefaultIngestBufferSize   = 1000
	DefaultIngestWorkers      = 4
	DefaultIngestWriteTimeout = 5 * time.Second

	// Query defaults
	DefaultQueryLimit    = 10
	DefaultQueryMaxLimit = 1000

	// Server defaults
	DefaultServerEnabled         = true
	DefaultServerListenAddress   = "127.0.0.1:9464"
	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 5 * time.Minute
	DefaultServerIdleTimeout     = 120 * time.Second
	DefaultServerShutdownTimeout = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "tally"
	DefaultMetricsSubsystem   = "analytics"
	DefaultHealthEnabled      = true
	DefaultHealthLivenessPath = "/health"
	DefaultHealthReadyPath    = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultCleanupDurationBuckets are the histogram buckets for cleanup pass
// duration in seconds.
var DefaultCleanupDurationBuckets = []float64{0.1, 0.5, 1, 5, 15, 60, 300}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyStoreDefaults(&cfg.Store)

	// Capacity defaults
	if cfg.Capacity.MaxStorageMB == 0 {
		cfg.Capacity.MaxStorageMB = DefaultMaxStorageMB
	}
	if cfg.Capacity.CleanupThresholdPercent == 0 {
		cfg.Capacity.CleanupThresholdPercent = DefaultCleanupThresholdPercent
	}

	// Retention defaults
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = DefaultRetentionSchedule
	}
	if cfg.Retention.RunOnStartup == nil {
		cfg.Retention.RunOnStartup = boolPtr(DefaultRetentionRunOnStartup)
	}
	if cfg.Retention.StartupWait == 0 {
		cfg.Retention.StartupWait = DefaultRetentionStartupWait
	}
	if cfg.Retention.DashboardSchedule == "" {
		cfg.Retention.DashboardSchedule = DefaultDashboardSchedule
	}

	// Ingest defaults
	if cfg.Ingest.Async == nil {
		cfg.Ingest.Async = boolPtr(DefaultIngestAsync)
	}
	if cfg.Ingest.BufferSize == 0 {
		cfg.Ingest.BufferSize = DefaultIngestBufferSize
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = DefaultIngestWorkers
	}
	if cfg.Ingest.WriteTimeout == 0 {
		cfg.Ingest.WriteTimeout = DefaultIngestWriteTimeout
	}

	// Query defaults
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = DefaultQueryLimit
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = DefaultQueryMaxLimit
	}

	// Server defaults
	if cfg.Server.Enabled == nil {
		cfg.Server.Enabled = boolPtr(DefaultServerEnabled)
	}
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultServerIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyStoreDefaults(store *StoreConfig) {
	if store.Backend == "" {
		store.Backend = DefaultStoreBackend
	}
	if store.Database == "" {
		store.Database = DefaultStoreDatabase
	}
	if store.ConnectTimeout == 0 {
		store.ConnectTimeout = DefaultStoreConnectTimeout
	}
	if store.ServerSelectionTimeout == 0 {
		store.ServerSelectionTimeout = DefaultStoreServerSelectionTimeout
	}
	if store.MaxPoolSize == 0 {
		store.MaxPoolSize = DefaultStoreMaxPoolSize
	}

	// SQLite defaults
	if store.SQLite.Path == "" {
		store.SQLite.Path = DefaultSQLitePath
	}
	if store.SQLite.Driver == "" {
		store.SQLite.Driver = DefaultSQLiteDriver
	}
	if store.SQLite.MaxOpenConns == 0 {
		store.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if store.SQLite.MaxIdleConns == 0 {
		store.SQLite.MaxIdleConns = DefaultSQLiteMaxIdleConns
	}
	if store.SQLite.WALMode == nil {
		store.SQLite.WALMode = boolPtr(DefaultSQLiteWALMode)
	}
	if store.SQLite.BusyTimeout == 0 {
		store.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Reconnect defaults
	r := &store.Reconnect
	if r.InitialInterval == 0 {
		r.InitialInterval = DefaultReconnectInitialInterval
	}
	if r.Multiplier == 0 {
		r.Multiplier = DefaultReconnectMultiplier
	}
	if r.MaxInterval == 0 {
		r.MaxInterval = DefaultReconnectMaxInterval
	}
	if r.MaxElapsedTime == 0 {
		r.MaxElapsedTime = DefaultReconnectMaxElapsedTime
	}
	if r.PingTimeout == 0 {
		r.PingTimeout = DefaultReconnectPingTimeout
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Enabled == nil {
		t.Metrics.Enabled = boolPtr(DefaultMetricsEnabled)
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.CleanupDurationBuckets) == 0 {
		t.Metrics.CleanupDurationBuckets = append([]float64(nil), DefaultCleanupDurationBuckets...)
	}

	if t.Health.Enabled == nil {
		t.Health.Enabled = boolPtr(DefaultHealthEnabled)
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultHealthReadyPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func boolPtr(b bool) *bool { return &b }
