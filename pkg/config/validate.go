package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/tally/pkg/analytics"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "capacity.max_storage_mb").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateCapacity(&cfg.Capacity)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateIngest(&cfg.Ingest)...)
	errs = append(errs, validateQuery(&cfg.Query)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateStore validates store configuration.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "mongo":
		if cfg.URI == "" {
			errs = append(errs, FieldError{
				Field:   "store.uri",
				Message: "uri is required for the mongo backend (set ANALYTICS_STORE_URI)",
			})
		} else if u, err := url.Parse(cfg.URI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
			errs = append(errs, FieldError{
				Field:   "store.uri",
				Message: "uri must use the mongodb:// or mongodb+srv:// scheme",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "store.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 || cfg.SQLite.MaxIdleConns < 0 {
			errs = append(errs, FieldError{
				Field:   "store.sqlite",
				Message: "connection limits must be non-negative",
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("invalid backend %q (must be mongo, sqlite, or memory)", cfg.Backend),
		})
	}

	if cfg.Database == "" {
		errs = append(errs, FieldError{
			Field:   "store.database",
			Message: "database is required",
		})
	}

	r := cfg.Reconnect
	if r.InitialInterval <= 0 || r.MaxInterval <= 0 || r.MaxElapsedTime <= 0 {
		errs = append(errs, FieldError{
			Field:   "store.reconnect",
			Message: "intervals must be positive",
		})
	}
	if r.InitialInterval > r.MaxInterval {
		errs = append(errs, FieldError{
			Field:   "store.reconnect.initial_interval",
			Message: "initial interval must not exceed max interval",
		})
	}
	if r.Multiplier < 1 {
		errs = append(errs, FieldError{
			Field:   "store.reconnect.multiplier",
			Message: "multiplier must be at least 1",
		})
	}

	return errs
}

// validateCapacity validates capacity configuration.
func validateCapacity(cfg *CapacityConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxStorageMB <= 0 {
		errs = append(errs, FieldError{
			Field:   "capacity.max_storage_mb",
			Message: "max storage must be positive",
		})
	}
	if cfg.CleanupThresholdPercent <= 0 || cfg.CleanupThresholdPercent > 100 {
		errs = append(errs, FieldError{
			Field:   "capacity.cleanup_threshold_percent",
			Message: "threshold must be in (0, 100]",
		})
	}

	return errs
}

// validateRetention validates retention configuration.
func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.Schedule != ScheduleOff {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.StartupWait < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.startup_wait",
			Message: "must be >= 0",
		})
	}
	if cfg.DashboardSchedule != "" && cfg.DashboardSchedule != ScheduleOff {
		if _, err := cron.ParseStandard(cfg.DashboardSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.dashboard_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	for name := range cfg.Days {
		if _, err := analytics.ParseCategory(name); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.days." + name,
				Message: "unknown category",
			})
		}
	}

	if len(errs) == 0 {
		if _, err := cfg.RetentionPolicy(); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.days",
				Message: err.Error(),
			})
		}
	}

	return errs
}

// validateIngest validates ingest configuration.
func validateIngest(cfg *IngestConfig) []FieldError {
	var errs []FieldError

	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{
			Field:   "ingest.buffer_size",
			Message: "buffer size must be at least 1",
		})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{
			Field:   "ingest.workers",
			Message: "workers must be at least 1",
		})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "ingest.write_timeout",
			Message: "write timeout must be positive",
		})
	}

	return errs
}

// validateQuery validates read API limits.
func validateQuery(cfg *QueryConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultLimit < 1 {
		errs = append(errs, FieldError{
			Field:   "query.default_limit",
			Message: "default limit must be at least 1",
		})
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		errs = append(errs, FieldError{
			Field:   "query.max_limit",
			Message: "max limit must not be below default limit",
		})
	}

	return errs
}

// validateServer validates ops server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server",
			Message: "timeouts must be non-negative",
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "path must start with /",
		})
	}
	for i := 1; i < len(cfg.Metrics.CleanupDurationBuckets); i++ {
		if cfg.Metrics.CleanupDurationBuckets[i] <= cfg.Metrics.CleanupDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.cleanup_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") || !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.health",
			Message: "paths must start with /",
		})
	}

	return errs
}
