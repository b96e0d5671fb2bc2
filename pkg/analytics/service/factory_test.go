package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/tally/pkg/config"
)

func TestNewDialer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StoreConfig{Backend: BackendMemory}},
		{name: "mongo", cfg: config.StoreConfig{Backend: BackendMongo, URI: "mongodb://localhost:27017", Database: "analytics"}},
		{name: "mongo without uri", cfg: config.StoreConfig{Backend: BackendMongo}, wantErr: true},
		{name: "sqlite", cfg: config.StoreConfig{Backend: BackendSQLite}},
		{name: "unknown", cfg: config.StoreConfig{Backend: "redis"}, wantErr: true},
		{name: "empty", cfg: config.StoreConfig{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dial, err := NewDialer(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewDialer() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && dial == nil {
				t.Fatal("expected a dialer")
			}
		})
	}
}

func TestNewDialer_SQLiteOpens(t *testing.T) {
	cfg := config.Default().Store
	cfg.Backend = BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "analytics.db")

	dial, err := NewDialer(&cfg)
	if err != nil {
		t.Fatalf("NewDialer failed: %v", err)
	}

	store, err := dial(context.Background())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer store.Close()

	if store.Backend() != BackendSQLite {
		t.Errorf("expected sqlite backend, got %s", store.Backend())
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestReconnectConfig(t *testing.T) {
	got := ReconnectConfig(&config.ReconnectConfig{})
	if got.InitialInterval <= 0 || got.Multiplier <= 1 || got.MaxInterval <= 0 || got.MaxElapsedTime <= 0 || got.PingTimeout <= 0 {
		t.Errorf("expected defaults for zero config, got %+v", got)
	}

	got = ReconnectConfig(&config.ReconnectConfig{
		InitialInterval: 2 * time.Second,
		Multiplier:      3,
		MaxInterval:     time.Minute,
		MaxElapsedTime:  time.Hour,
		PingTimeout:     time.Second,
	})
	if got.InitialInterval != 2*time.Second || got.Multiplier != 3 || got.MaxElapsedTime != time.Hour {
		t.Errorf("expected configured values, got %+v", got)
	}
}
