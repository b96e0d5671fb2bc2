package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/tally/pkg/analytics"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables always take
// precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return finishEnv(cfg)
}

// LoadOrDefault behaves like LoadConfigWithEnvOverrides, except that a
// missing file (or an empty path) yields the defaults plus environment
// overrides instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}
	return finishEnv(Default())
}

func finishEnv(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// The capacity and connection variables keep their deployment names
// (MAX_STORAGE_MB, CLEANUP_THRESHOLD_PERCENT, ANALYTICS_STORE_URI); everything
// else uses the format TALLY_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Deployment variables
	if val := os.Getenv("ANALYTICS_STORE_URI"); val != "" {
		cfg.Store.URI = val
	}
	if val := os.Getenv("MAX_STORAGE_MB"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Capacity.MaxStorageMB = f
		}
	}
	if val := os.Getenv("CLEANUP_THRESHOLD_PERCENT"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Capacity.CleanupThresholdPercent = f
		}
	}

	// Store overrides
	if val := os.Getenv("TALLY_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("TALLY_STORE_DATABASE"); val != "" {
		cfg.Store.Database = val
	}
	if val := os.Getenv("TALLY_STORE_CONNECT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Store.ConnectTimeout = d
		}
	}
	if val := os.Getenv("TALLY_SQLITE_PATH"); val != "" {
		cfg.Store.SQLite.Path = val
	}
	if val := os.Getenv("TALLY_SQLITE_DRIVER"); val != "" {
		cfg.Store.SQLite.Driver = val
	}

	// Retention overrides
	if val := os.Getenv("TALLY_RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}
	if val := os.Getenv("TALLY_RETENTION_COMPLIANCE_OVERRIDE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Retention.ComplianceOverride = b
		}
	}
	applyRetentionDayOverrides(cfg)

	// Ingest overrides
	if val := os.Getenv("TALLY_INGEST_ASYNC"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Ingest.Async = &b
		}
	}
	if val := os.Getenv("TALLY_INGEST_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Ingest.BufferSize = i
		}
	}

	// Server overrides
	if val := os.Getenv("TALLY_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}

	// Telemetry overrides
	if val := os.Getenv("TALLY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("TALLY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("TALLY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
}

// applyRetentionDayOverrides reads TALLY_RETENTION_DAYS_<CATEGORY> for every
// category, e.g. TALLY_RETENTION_DAYS_SEARCH_ANALYTICS=14.
func applyRetentionDayOverrides(cfg *Config) {
	for _, c := range analytics.AllCategories() {
		val := os.Getenv("TALLY_RETENTION_DAYS_" + strings.ToUpper(c.String()))
		if val == "" {
			continue
		}
		days, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		if cfg.Retention.Days == nil {
			cfg.Retention.Days = make(map[string]int)
		}
		cfg.Retention.Days[c.String()] = days
	}
}

// CheckSchedule returns the capacity check schedule, or "" when it is off.
func (r *RetentionConfig) CheckSchedule() string {
	return scheduleSpec(r.Schedule)
}

// DashboardRefreshSchedule returns the dashboard refresh schedule, or ""
// when it is off.
func (r *RetentionConfig) DashboardRefreshSchedule() string {
	return scheduleSpec(r.DashboardSchedule)
}

func scheduleSpec(spec string) string {
	if spec == ScheduleOff {
		return ""
	}
	return spec
}

// RetentionPolicy builds the retention policy described by the retention
// section on top of the default policy.
func (r *RetentionConfig) RetentionPolicy() (*analytics.Policy, error) {
	overrides := make(map[analytics.Category]int, len(r.Days))
	for name, days := range r.Days {
		c, err := analytics.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		overrides[c] = days
	}
	return analytics.DefaultPolicy().WithOverrides(overrides, r.ComplianceOverride)
}
