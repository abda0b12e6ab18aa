package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a test meter provider and returns its reader.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	require.NotNil(t, m, "metric %s not found", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum type for %s", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordEventMetrics(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordAdmission(ctx, "orders", true)
	m.RecordAdmission(ctx, "orders", true)
	m.RecordAdmission(ctx, "orders", false)
	m.RecordInFlight(ctx, "orders", 2)
	m.RecordInFlight(ctx, "orders", -1)
	m.RecordEvent(ctx, "orders", "succeeded", 3*time.Millisecond)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "proactor.events.admitted"))
	assert.Equal(t, int64(1), sumOf(t, rm, "proactor.events.rejected"))
	assert.Equal(t, int64(1), sumOf(t, rm, "proactor.events.inflight"))
	assert.Equal(t, int64(1), sumOf(t, rm, "proactor.events.completed"))

	latency := findMetric(rm, "proactor.events.latency_ms")
	require.NotNil(t, latency)
	hist, ok := latency.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestRecordStageMetrics(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordStage(ctx, "parse", "loop", time.Millisecond, nil)
	m.RecordStage(ctx, "store", "blocking", time.Millisecond, errors.New("db down"))
	m.RecordDispatchRetry(ctx, "store", "blocking")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, rm, "proactor.stage.executions"))
	assert.Equal(t, int64(1), sumOf(t, rm, "proactor.stage.errors"))
	assert.Equal(t, int64(1), sumOf(t, rm, "proactor.dispatch.retries"))

	errs := findMetric(rm, "proactor.stage.errors")
	sum := errs.Data.(metricdata.Sum[int64])
	pool, ok := sum.DataPoints[0].Attributes.Value("pool")
	require.True(t, ok)
	assert.Equal(t, "blocking", pool.AsString())
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordAdmission(ctx, "p", true)
		m.RecordInFlight(ctx, "p", 1)
		m.RecordEvent(ctx, "p", "failed", time.Second)
		m.RecordStage(ctx, "s", "pool", time.Second, errors.New("x"))
		m.RecordDispatchRetry(ctx, "s", "pool")
	})
}
