package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records proactor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAdmission records an event accepted or rejected at a sink.
	RecordAdmission(ctx context.Context, pipeline string, admitted bool)

	// RecordInFlight adjusts the in-flight gauge by delta.
	RecordInFlight(ctx context.Context, pipeline string, delta int64)

	// RecordEvent records an event reaching a terminal state.
	RecordEvent(ctx context.Context, pipeline, status string, duration time.Duration)

	// RecordStage records a stage execution with its duration and error status.
	RecordStage(ctx context.Context, stage, pool string, duration time.Duration, err error)

	// RecordDispatchRetry records a rejected submission scheduled for retry.
	RecordDispatchRetry(ctx context.Context, stage, pool string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsAdmitted  metric.Int64Counter
	eventsRejected  metric.Int64Counter
	eventsInFlight  metric.Int64UpDownCounter
	eventsCompleted metric.Int64Counter
	eventLatency    metric.Float64Histogram
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	dispatchRetries metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("proactor")
	m := &otelMetrics{}
	var err error

	if m.eventsAdmitted, err = meter.Int64Counter("proactor.events.admitted",
		metric.WithDescription("Number of events accepted by a sink"),
	); err != nil {
		return nil, err
	}
	if m.eventsRejected, err = meter.Int64Counter("proactor.events.rejected",
		metric.WithDescription("Number of events refused by a sink"),
	); err != nil {
		return nil, err
	}
	if m.eventsInFlight, err = meter.Int64UpDownCounter("proactor.events.inflight",
		metric.WithDescription("Number of admitted events not yet terminal"),
	); err != nil {
		return nil, err
	}
	if m.eventsCompleted, err = meter.Int64Counter("proactor.events.completed",
		metric.WithDescription("Number of events reaching a terminal state"),
	); err != nil {
		return nil, err
	}
	if m.eventLatency, err = meter.Float64Histogram("proactor.events.latency_ms",
		metric.WithDescription("Time from acceptance to terminal state in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageExecutions, err = meter.Int64Counter("proactor.stage.executions",
		metric.WithDescription("Number of stage executions"),
	); err != nil {
		return nil, err
	}
	if m.stageLatency, err = meter.Float64Histogram("proactor.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageErrors, err = meter.Int64Counter("proactor.stage.errors",
		metric.WithDescription("Number of stage execution errors"),
	); err != nil {
		return nil, err
	}
	if m.dispatchRetries, err = meter.Int64Counter("proactor.dispatch.retries",
		metric.WithDescription("Number of rejected submissions scheduled for retry"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordAdmission records an admission decision.
func (m *otelMetrics) RecordAdmission(ctx context.Context, pipeline string, admitted bool) {
	attrs := metric.WithAttributes(attribute.String("pipeline", pipeline))
	if admitted {
		m.eventsAdmitted.Add(ctx, 1, attrs)
		return
	}
	m.eventsRejected.Add(ctx, 1, attrs)
}

// RecordInFlight adjusts the in-flight gauge.
func (m *otelMetrics) RecordInFlight(ctx context.Context, pipeline string, delta int64) {
	m.eventsInFlight.Add(ctx, delta, metric.WithAttributes(attribute.String("pipeline", pipeline)))
}

// RecordEvent records a terminal event.
func (m *otelMetrics) RecordEvent(ctx context.Context, pipeline, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("status", status),
	)
	m.eventsCompleted.Add(ctx, 1, attrs)
	m.eventLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordStage records a stage execution.
func (m *otelMetrics) RecordStage(ctx context.Context, stage, pool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("pool", pool),
	)
	m.stageExecutions.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

// RecordDispatchRetry records a retry.
func (m *otelMetrics) RecordDispatchRetry(ctx context.Context, stage, pool string) {
	m.dispatchRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("pool", pool),
	))
}
