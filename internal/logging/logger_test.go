package logging

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"drillflow/internal/observability"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) record(level, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, level+" "+fmt.Sprintf(format, args...))
}

func (c *captureLogger) Debug(format string, args ...any) { c.record("DEBUG", format, args...) }
func (c *captureLogger) Info(format string, args ...any)  { c.record("INFO", format, args...) }
func (c *captureLogger) Warn(format string, args ...any)  { c.record("WARN", format, args...) }
func (c *captureLogger) Error(format string, args ...any) { c.record("ERROR", format, args...) }

func TestOrNopHandlesTypedNil(t *testing.T) {
	var logger *captureLogger
	if !IsNil(logger) {
		t.Fatalf("expected typed nil to be detected")
	}
	OrNop(logger).Info("no panic")
	OrNop(nil).Error("still no panic")
}

func TestFromContextPrefixesPlainLoggers(t *testing.T) {
	capture := &captureLogger{}
	ctx := observability.ContextWithTaskID(context.Background(), "task-1")
	ctx = observability.ContextWithLogID(ctx, "log-1")

	FromContext(ctx, capture).Info("iteration %d opened", 2)

	if len(capture.lines) != 1 || capture.lines[0] != "INFO task_id=task-1 log_id=log-1 iteration 2 opened" {
		t.Fatalf("unexpected lines: %v", capture.lines)
	}

	if got := FromContext(context.Background(), capture); got != Logger(capture) {
		t.Fatalf("expected logger unchanged without log id")
	}
}

func TestFromObservabilityWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: buf})

	logger := WithTaskID(WithLogID(FromObservabilityWithComponent(base, "executor"), "log-7"), "task-7")
	logger.Debug("batch of %d instructions", 3)

	out := buf.String()
	for _, want := range []string{`"component":"executor"`, `"log_id":"log-7"`, `"task_id":"task-7"`, `"msg":"batch of 3 instructions"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}

	if FromObservabilityWithComponent(nil, "x") == nil {
		t.Fatalf("expected nop logger for nil base")
	}
}

func TestNewComponentLoggerUsesDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	previous := Default()
	SetDefault(observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: buf}))
	t.Cleanup(func() { SetDefault(previous) })

	NewComponentLogger("progression").Info("decision received")

	if !strings.Contains(buf.String(), `"component":"progression"`) {
		t.Fatalf("expected component attribute, got %s", buf.String())
	}
}
