package config

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with sensible defaults for testing.
// The resulting configuration is valid and uses the in-memory backend.
func NewTestConfig() *ConfigBuilder {
	cfg := Config{}
	cfg.Store.Backend = "memory"
	ApplyDefaults(&cfg)
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithBackend sets the store backend.
func (b *ConfigBuilder) WithBackend(backend string) *ConfigBuilder {
	b.cfg.Store.Backend = backend
	return b
}

// WithStoreURI sets the store URI.
func (b *ConfigBuilder) WithStoreURI(uri string) *ConfigBuilder {
	b.cfg.Store.URI = uri
	return b
}

// WithCapacity sets the storage budget and cleanup threshold.
func (b *ConfigBuilder) WithCapacity(maxMB, thresholdPercent float64) *ConfigBuilder {
	b.cfg.Capacity.MaxStorageMB = maxMB
	b.cfg.Capacity.CleanupThresholdPercent = thresholdPercent
	return b
}

// WithRetentionDays overrides the retention period of one category.
func (b *ConfigBuilder) WithRetentionDays(category string, days int) *ConfigBuilder {
	if b.cfg.Retention.Days == nil {
		b.cfg.Retention.Days = make(map[string]int)
	}
	b.cfg.Retention.Days[category] = days
	return b
}

// WithSchedule sets the retention cron schedule.
func (b *ConfigBuilder) WithSchedule(schedule string) *ConfigBuilder {
	b.cfg.Retention.Schedule = schedule
	return b
}

// WithListenAddress sets the ops server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithLogging sets the logging level and format.
func (b *ConfigBuilder) WithLogging(level, format string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	b.cfg.Telemetry.Logging.Format = format
	return b
}
