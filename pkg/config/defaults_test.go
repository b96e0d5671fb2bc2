package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"store.backend", cfg.Store.Backend, DefaultStoreBackend},
		{"store.database", cfg.Store.Database, DefaultStoreDatabase},
		{"store.sqlite.path", cfg.Store.SQLite.Path, DefaultSQLitePath},
		{"store.sqlite.driver", cfg.Store.SQLite.Driver, DefaultSQLiteDriver},
		{"store.sqlite.wal_mode", BoolValue(cfg.Store.SQLite.WALMode, false), true},
		{"store.reconnect.initial_interval", cfg.Store.Reconnect.InitialInterval, time.Second},
		{"store.reconnect.max_interval", cfg.Store.Reconnect.MaxInterval, time.Minute},
		{"store.reconnect.max_elapsed_time", cfg.Store.Reconnect.MaxElapsedTime, 10 * time.Minute},
		{"capacity.max_storage_mb", cfg.Capacity.MaxStorageMB, 450.0},
		{"capacity.cleanup_threshold_percent", cfg.Capacity.CleanupThresholdPercent, 85.0},
		{"retention.schedule", cfg.Retention.Schedule, DefaultRetentionSchedule},
		{"retention.run_on_startup", BoolValue(cfg.Retention.RunOnStartup, false), true},
		{"ingest.async", BoolValue(cfg.Ingest.Async, false), true},
		{"ingest.buffer_size", cfg.Ingest.BufferSize, DefaultIngestBufferSize},
		{"query.default_limit", cfg.Query.DefaultLimit, 10},
		{"query.max_limit", cfg.Query.MaxLimit, 1000},
		{"server.listen_address", cfg.Server.ListenAddress, DefaultServerListenAddress},
		{"telemetry.logging.level", cfg.Telemetry.Logging.Level, "info"},
		{"telemetry.metrics.enabled", BoolValue(cfg.Telemetry.Metrics.Enabled, false), true},
		{"telemetry.metrics.namespace", cfg.Telemetry.Metrics.Namespace, "tally"},
		{"telemetry.health.readiness_path", cfg.Telemetry.Health.ReadinessPath, "/ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_PreservesValues(t *testing.T) {
	disabled := false
	cfg := &Config{
		Capacity: CapacityConfig{MaxStorageMB: 512, CleanupThresholdPercent: 75},
		Ingest:   IngestConfig{Async: &disabled, Workers: 8},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: &disabled},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Capacity.MaxStorageMB != 512 || cfg.Capacity.CleanupThresholdPercent != 75 {
		t.Errorf("capacity overwritten: %+v", cfg.Capacity)
	}
	if BoolValue(cfg.Ingest.Async, true) {
		t.Error("explicit async=false was overwritten")
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("workers overwritten: %d", cfg.Ingest.Workers)
	}
	if BoolValue(cfg.Telemetry.Metrics.Enabled, true) {
		t.Error("explicit metrics.enabled=false was overwritten")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	first := *cfg
	ApplyDefaults(cfg)

	if cfg.Store.Backend != first.Store.Backend || cfg.Retention.Schedule != first.Retention.Schedule {
		t.Error("ApplyDefaults should be idempotent")
	}
	if len(cfg.Telemetry.Metrics.CleanupDurationBuckets) != len(DefaultCleanupDurationBuckets) {
		t.Error("buckets should not be appended twice")
	}
}

func TestBoolValue(t *testing.T) {
	yes := true
	if !BoolValue(&yes, false) {
		t.Error("expected set value")
	}
	if !BoolValue(nil, true) {
		t.Error("expected default for nil")
	}
}
