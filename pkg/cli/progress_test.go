package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(4)
	progress.Step("user_activity_log")
	progress.Step("search_analytics")
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "2/4 search_analytics") {
		t.Errorf("expected step output, got %q", output)
	}
	if !strings.Contains(output, "4/4") {
		t.Errorf("expected finished output, got %q", output)
	}
}

func TestSimpleProgress_StepsBeyondTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf).(*SimpleProgress)

	progress.Start(1)
	progress.Step("a")
	progress.Step("b")

	if progress.current != 1 {
		t.Errorf("expected progress capped at total, got %d", progress.current)
	}
}

func TestSimpleProgress_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(0)
	progress.Step("a")
	progress.Finish()

	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("expected no bar for zero total, got %q", buf.String())
	}
}

func TestSimpleProgress_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf)

	progress.Start(3)
	progress.Error(fmt.Errorf("store unavailable"))

	if !strings.Contains(buf.String(), "Error: store unavailable") {
		t.Errorf("expected error output, got %q", buf.String())
	}
}

func TestNewProgressReporter_NilWriter(t *testing.T) {
	if NewProgressReporter(nil) == nil {
		t.Error("NewProgressReporter(nil) should not return nil")
	}
}
