package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/analytics/retention"
	"mercator-hq/tally/pkg/cli"
)

// executeCommand runs the root command against an in-memory store with no
// config file.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("TALLY_STORE_BACKEND", "memory")
	dir := t.TempDir()

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetErr(nil)

	base := []string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env-file", filepath.Join(dir, "missing.env"),
		"--log-level", "error",
	}
	rootCmd.SetArgs(append(args, base...))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestStorageStatsCommand(t *testing.T) {
	output, err := executeCommand(t, "storage", "stats", "--output", "json")
	if err != nil {
		t.Fatalf("storage stats failed: %v", err)
	}

	var stats capacity.Stats
	if err := json.Unmarshal([]byte(output), &stats); err != nil {
		t.Fatalf("invalid JSON output %q: %v", output, err)
	}
	if stats.MaxStorageMB <= 0 {
		t.Errorf("expected a storage budget, got %+v", stats)
	}
	if len(stats.Categories) != len(analytics.AllCategories()) {
		t.Errorf("expected every category, got %d", len(stats.Categories))
	}
}

func TestStorageCleanupCommand(t *testing.T) {
	output, err := executeCommand(t, "storage", "cleanup", "--output", "text")
	if err != nil {
		t.Fatalf("storage cleanup failed: %v", err)
	}
	if !strings.Contains(output, "threshold") {
		t.Errorf("expected threshold report, got %q", output)
	}
}

func TestStorageEmergencyCommand(t *testing.T) {
	_, err := executeCommand(t, "storage", "emergency", "--yes=false")
	if err == nil {
		t.Fatal("expected emergency cleanup to require --yes")
	}
	if cli.ExitCode(err) != cli.ExitConfigError {
		t.Errorf("expected config exit code, got %d", cli.ExitCode(err))
	}

	output, err := executeCommand(t, "storage", "emergency", "--yes", "--output", "csv")
	if err != nil {
		t.Fatalf("storage emergency failed: %v", err)
	}
	if !strings.HasPrefix(output, "FIELD,VALUE\nmode,emergency\n") {
		t.Errorf("unexpected csv output %q", output)
	}
}

func TestStoragePurgeCommand(t *testing.T) {
	output, err := executeCommand(t, "storage", "purge", "search_analytics", "audit_log", "--days", "0", "--output", "text")
	if err != nil {
		t.Fatalf("storage purge failed: %v", err)
	}
	if !strings.Contains(output, "search_analytics") || !strings.Contains(output, "audit_log") {
		t.Errorf("expected both categories, got %q", output)
	}

	if _, err := executeCommand(t, "storage", "purge", "bogus"); cli.ExitCode(err) != cli.ExitConfigError {
		t.Errorf("expected config error for unknown category, got %v", err)
	}
}

func TestStorageCommand_BadOutput(t *testing.T) {
	_, err := executeCommand(t, "storage", "stats", "--output", "yaml")
	if cli.ExitCode(err) != cli.ExitConfigError {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestReportTable(t *testing.T) {
	table := reportTable{&retention.Report{
		Mode:         retention.ModeThreshold,
		Cleaned:      true,
		DeletedCount: 7,
		Deleted:      map[analytics.Category]int64{analytics.SearchAnalytics: 7},
		Failures:     []string{"audit_log: timeout"},
		Duration:     1500 * time.Microsecond,
	}}

	rows := table.Rows()
	found := map[string]string{}
	for _, row := range rows {
		found[row[0]] = row[1]
	}
	if found["deleted"] != "7" || found["deleted.search_analytics"] != "7" || found["error"] != "audit_log: timeout" {
		t.Errorf("unexpected rows: %v", rows)
	}
	if found["duration"] != "2ms" {
		t.Errorf("expected rounded duration, got %q", found["duration"])
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MAX_STORAGE_MB=300\nTALLY_LOGGING_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TALLY_LOGGING_LEVEL", "warn")
	os.Unsetenv("MAX_STORAGE_MB")
	defer os.Unsetenv("MAX_STORAGE_MB")

	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv failed: %v", err)
	}
	if got := os.Getenv("MAX_STORAGE_MB"); got != "300" {
		t.Errorf("expected MAX_STORAGE_MB from file, got %q", got)
	}
	if got := os.Getenv("TALLY_LOGGING_LEVEL"); got != "warn" {
		t.Errorf("existing variables must win, got %q", got)
	}

	if err := loadEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file must not fail, got %v", err)
	}
}
