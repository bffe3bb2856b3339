package plog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestHandler(stdout, stderr *bytes.Buffer) *LevelDispatchHandler {
	return &LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(stdout, nil),
		stderrHandler: slog.NewTextHandler(stderr, nil),
	}
}

func TestDispatchByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := slog.New(newTestHandler(&stdout, &stderr))

	logger.Info("routine message")
	logger.Warn("warning message")
	logger.Error("error message")

	if !strings.Contains(stdout.String(), "routine message") {
		t.Error("INFO should be written to the stdout handler")
	}
	if strings.Contains(stdout.String(), "warning message") {
		t.Error("WARN must not reach the stdout handler")
	}
	if !strings.Contains(stderr.String(), "warning message") {
		t.Error("WARN should be written to the stderr handler")
	}
	if !strings.Contains(stderr.String(), "error message") {
		t.Error("ERROR should be written to the stderr handler")
	}
	if strings.Contains(stderr.String(), "routine message") {
		t.Error("INFO must not reach the stderr handler")
	}
}

func TestWithAttrsPreservesDispatch(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := slog.New(newTestHandler(&stdout, &stderr)).With("run", "abc123")

	logger.Info("started")
	logger.Warn("degraded")

	if !strings.Contains(stdout.String(), "run=abc123") {
		t.Error("attributes should survive on the stdout path")
	}
	if !strings.Contains(stderr.String(), "run=abc123") {
		t.Error("attributes should survive on the stderr path")
	}
}

func TestEnabledConsultsBothHandlers(t *testing.T) {
	var buf bytes.Buffer
	h := &LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		stderrHandler: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}),
	}

	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("INFO should be enabled via the stdout handler")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("DEBUG should be disabled when neither handler accepts it")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetLevel(LevelInfo)

	Debug("hidden detail")
	if strings.Contains(buf.String(), "hidden detail") {
		t.Error("DEBUG must be suppressed at the default level")
	}

	SetLevel(LevelDebug)
	Debug("visible detail")
	if !strings.Contains(buf.String(), "visible detail") {
		t.Error("DEBUG should be emitted after lowering the level")
	}
}
