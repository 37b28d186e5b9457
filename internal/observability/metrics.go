package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records task-level engine metrics through OpenTelemetry.
// The Prometheus exporter registers on the default registry, so the values
// show up on the same /metrics endpoint as the executor collectors.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider

	tasksActive       metric.Int64UpDownCounter
	tasksTotal        metric.Int64Counter
	taskDuration      metric.Float64Histogram
	drilldownDecision metric.Int64Counter
	collaboratorFails metric.Int64Counter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose recorders are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(defaultServiceName)

	tasksActive, err := meter.Int64UpDownCounter(
		"drillflow.tasks.active",
		metric.WithDescription("Number of tasks currently running"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_active counter: %w", err)
	}

	tasksTotal, err := meter.Int64Counter(
		"drillflow.tasks.total",
		metric.WithDescription("Total number of finished tasks by iteration count"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_total counter: %w", err)
	}

	taskDuration, err := meter.Float64Histogram(
		"drillflow.task.duration",
		metric.WithDescription("End-to-end task duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task_duration histogram: %w", err)
	}

	drilldownDecision, err := meter.Int64Counter(
		"drillflow.drilldown.decisions",
		metric.WithDescription("Drilldown decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drilldown_decisions counter: %w", err)
	}

	collaboratorFails, err := meter.Int64Counter(
		"drillflow.collaborator.failures",
		metric.WithDescription("Planner, decider and synthesizer failures that were absorbed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaborator_failures counter: %w", err)
	}

	return &MetricsCollector{
		provider:          provider,
		tasksActive:       tasksActive,
		tasksTotal:        tasksTotal,
		taskDuration:      taskDuration,
		drilldownDecision: drilldownDecision,
		collaboratorFails: collaboratorFails,
	}, nil
}

// Shutdown flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// TaskStarted marks a task as running.
func (m *MetricsCollector) TaskStarted(ctx context.Context) {
	if m == nil || m.tasksActive == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// TaskFinished records the end of a task.
func (m *MetricsCollector) TaskFinished(ctx context.Context, iterations int, duration time.Duration) {
	if m == nil || m.tasksActive == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("iterations", iterations))
	m.tasksActive.Add(ctx, -1)
	m.tasksTotal.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDecision counts a drilldown verdict.
func (m *MetricsCollector) RecordDecision(ctx context.Context, needDrilldown bool) {
	if m == nil || m.drilldownDecision == nil {
		return
	}
	m.drilldownDecision.Add(ctx, 1, metric.WithAttributes(attribute.Bool("need_drilldown", needDrilldown)))
}

// RecordCollaboratorFailure counts a collaborator error the engine recovered
// from, labelled with its failure kind.
func (m *MetricsCollector) RecordCollaboratorFailure(ctx context.Context, collaborator, kind string) {
	if m == nil || m.collaboratorFails == nil {
		return
	}
	m.collaboratorFails.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collaborator", collaborator),
		attribute.String("kind", kind),
	))
}
