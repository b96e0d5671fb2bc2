// Package config provides configuration management for tally.
//
// A configuration is read from YAML, completed with defaults, overridden from
// the environment and validated, in that order. Validation reports every
// invalid field at once.
//
// # Configuration Loading
//
// Configuration can be loaded in three ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tally.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tally.yaml")
//
//  3. From a YAML file if present, defaults otherwise:
//     cfg, err := config.LoadOrDefault("tally.yaml")
//
// # Environment Variable Overrides
//
// The deployment variables keep their plain names:
//
//   - ANALYTICS_STORE_URI overrides store.uri
//   - MAX_STORAGE_MB overrides capacity.max_storage_mb
//   - CLEANUP_THRESHOLD_PERCENT overrides capacity.cleanup_threshold_percent
//
// Everything else follows TALLY_SECTION_FIELD, for example
// TALLY_LOGGING_LEVEL or TALLY_RETENTION_DAYS_SEARCH_ANALYTICS.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher re-reads the file when it changes on disk and replaces the global
// configuration. Capacity settings and retention days take effect on the
// next cleanup run; store and server settings require a restart.
//
//	w, _ := config.NewWatcher("tally.yaml", 0)
//	go w.Watch(ctx, func(cfg *config.Config) {
//	    engine.SetThresholdPercent(cfg.Capacity.CleanupThresholdPercent)
//	})
//
// # Process Configuration
//
// The CLI installs the loaded configuration with SetConfig; the Watcher
// replaces it after each successful reload. Library packages take a *Config
// or one of its sections explicitly and never read GetConfig. Tests build
// configurations with NewTestConfig.
package config
