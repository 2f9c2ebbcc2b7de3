package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"Warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogConfig_Validate(t *testing.T) {
	if err := (LogConfig{}).Validate(); err != nil {
		t.Errorf("zero config should be valid: %v", err)
	}
	if err := (LogConfig{Level: "debug", Format: "TEXT"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (LogConfig{Format: "xml"}).Validate(); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := (LogConfig{Level: "loud"}).Validate(); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := NewLogger(&buf, LogConfig{Level: "warn"})

	logger.Info("hidden")
	WithTenantID(WithPlanID(logger, "p-1"), "acme").Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "visible" || rec["plan_id"] != "p-1" || rec["tenant_id"] != "acme" {
		t.Errorf("unexpected record: %v", rec)
	}
	if slog.Default() != logger {
		t.Error("NewLogger should set the default logger")
	}
}

func TestNewLogger_Text(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	WithComponent(NewLogger(&buf, LogConfig{Format: "text"}), "engine").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "component=engine") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestContextLogger(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger without context value")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTaskOutcome("COMPLETED")
	m.ObserveHTTP("GET", 200)
	m.LockAcquired(1)
	m.SetQueued(3)
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTaskOutcome("FAILED")
	m.ObserveTaskOutcome("FAILED")
	m.LockAcquired(3)
	m.LockReleased(1)
	m.ObserveHTTP("POST", 201)

	if got := testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("FAILED")); got != 2 {
		t.Errorf("task outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TenantLocksHeld); got != 2 {
		t.Errorf("locks held = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "201")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}
