package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process configuration. The CLI installs it at startup and
// the Watcher swaps it when the file changes.
var current atomic.Pointer[Config]

// Initialize loads the configuration at path, falling back to defaults and
// environment when the file is missing, and installs it as the process
// configuration. Once a configuration is installed, later calls are no-ops.
func Initialize(path string) error {
	if current.Load() != nil {
		return nil
	}
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return err
	}
	current.CompareAndSwap(nil, cfg)
	return nil
}

// GetConfig returns the process configuration, or nil before Initialize or
// SetConfig.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig installs cfg as the process configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig re-reads path and installs the result. On error the
// installed configuration is left as is.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return nil
}
