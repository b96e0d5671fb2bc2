package service

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/client"
	"mercator-hq/tally/pkg/analytics/storage"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/logging"
)

// Supported store backends.
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewDialer returns a dialer for the configured backend.
//
// Supported backends:
//   - "mongo": MongoDB via the official driver (production)
//   - "sqlite": embedded SQLite file (single node, development)
//   - "memory": in-process maps (tests, demos)
//
// Example:
//
//	dial, err := service.NewDialer(&cfg.Store)
//	if err != nil {
//	    return err
//	}
//	manager := client.NewManager(dial, service.ReconnectConfig(&cfg.Store.Reconnect))
func NewDialer(cfg *config.StoreConfig) (client.Dialer, error) {
	slog.Debug("creating store dialer",
		"backend", cfg.Backend,
		"uri", logging.RedactURI(cfg.URI),
		"database", cfg.Database,
	)

	switch cfg.Backend {
	case BackendMongo:
		if cfg.URI == "" {
			return nil, fmt.Errorf("mongo backend requires a store URI")
		}
		mongoCfg := &storage.MongoConfig{
			URI:                    cfg.URI,
			Database:               cfg.Database,
			ConnectTimeout:         cfg.ConnectTimeout,
			ServerSelectionTimeout: cfg.ServerSelectionTimeout,
			MaxPoolSize:            cfg.MaxPoolSize,
		}
		return func(ctx context.Context) (analytics.Store, error) {
			return storage.NewMongoStore(ctx, mongoCfg)
		}, nil

	case BackendSQLite:
		sqliteCfg := &storage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			Driver:       cfg.SQLite.Driver,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      config.BoolValue(cfg.SQLite.WALMode, config.DefaultSQLiteWALMode),
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		}
		return func(ctx context.Context) (analytics.Store, error) {
			return storage.NewSQLiteStore(sqliteCfg)
		}, nil

	case BackendMemory:
		return func(ctx context.Context) (analytics.Store, error) {
			return storage.NewMemoryStore(nil), nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q (supported: mongo, sqlite, memory)", cfg.Backend)
	}
}

// ReconnectConfig converts the reconnect section of the configuration.
func ReconnectConfig(cfg *config.ReconnectConfig) *client.Config {
	def := client.DefaultConfig()
	out := &client.Config{
		InitialInterval: cfg.InitialInterval,
		Multiplier:      cfg.Multiplier,
		MaxInterval:     cfg.MaxInterval,
		MaxElapsedTime:  cfg.MaxElapsedTime,
		PingTimeout:     cfg.PingTimeout,
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = def.InitialInterval
	}
	if out.Multiplier <= 1 {
		out.Multiplier = def.Multiplier
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = def.MaxInterval
	}
	if out.MaxElapsedTime <= 0 {
		out.MaxElapsedTime = def.MaxElapsedTime
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = def.PingTimeout
	}
	return out
}
