package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerWithContextAddsTaskAndLogID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: buf})

	ctx := ContextWithTaskID(context.Background(), "task-1")
	ctx = ContextWithLogID(ctx, "log-9")
	logger.InfoContext(ctx, "iteration opened", "iteration", 1)

	out := buf.String()
	assert.Contains(t, out, `"task_id":"task-1"`)
	assert.Contains(t, out, `"log_id":"log-9"`)
	assert.Contains(t, out, `"iteration":1`)
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "warn", Output: buf})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "***", SanitizeAPIKey("short"))
	assert.Equal(t, "sk-abcde...wxyz", SanitizeAPIKey("sk-abcdefghijklmnopwxyz"))
}

func TestDisabledTracerYieldsUsableSpans(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.StartSpan(ContextWithTaskID(context.Background(), "task-1"), SpanTaskRun)
	require.NotNil(t, ctx)
	EndSpan(span, nil)
	require.NoError(t, tp.Shutdown(context.Background()))

	var nilProvider *TracerProvider
	_, span = nilProvider.StartSpan(context.Background(), SpanBatchExecute)
	EndSpan(span, assert.AnError)
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

func TestDisabledMetricsCollectorIsNoop(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	collector.TaskStarted(ctx)
	collector.RecordDecision(ctx, true)
	collector.RecordCollaboratorFailure(ctx, "planner", "planning_failure")
	collector.TaskFinished(ctx, 2, 0)
	require.NoError(t, collector.Shutdown(ctx))

	var nilCollector *MetricsCollector
	nilCollector.TaskStarted(ctx)
}

func TestSetupWritesToRotatingLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "drillflow.log")
	config := DefaultConfig()
	config.Metrics.Enabled = false
	config.Logging.File = path
	config.Logging.Format = "json"

	stack, err := Setup(config)
	require.NoError(t, err)
	stack.Logger.Info("task finished", "queries", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"task finished"`)
	assert.Contains(t, string(data), `"queries":3`)
}
