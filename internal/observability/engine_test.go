package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"ratelimiter/internal/clock"
	"ratelimiter/internal/limiter"
	"ratelimiter/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestProviders points the global OTel providers at in-memory
// readers for the duration of the test.
func installTestProviders(t *testing.T) (*sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	prevMeter := otel.GetMeterProvider()
	prevTracer := otel.GetTracerProvider()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMeter)
		otel.SetTracerProvider(prevTracer)
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})
	return reader, recorder
}

func newWrappedEngine(t *testing.T) *InstrumentedEngine {
	t.Helper()
	e, err := limiter.New(limiter.WithClock(clock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)

	ie, err := NewInstrumentedEngine(service.WrapEngine(e))
	require.NoError(t, err)
	return ie
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					out[string(kv.Key)+"="+kv.Value.AsString()] += dp.Value
				}
			}
		}
	}
	return out
}

func TestInstrumentedEngine_CheckMetrics(t *testing.T) {
	reader, recorder := installTestProviders(t)
	ie := newWrappedEngine(t)
	ctx := context.Background()

	cfg := limiter.Config{Capacity: 2, RefillRate: 0.001}
	for range 3 {
		_, err := ie.Check(ctx, "alice", 1, cfg)
		require.NoError(t, err)
	}
	_, err := ie.Check(ctx, "", 1, cfg)
	require.Error(t, err)

	decisions := collectSum(t, reader, "ratelimiter.decisions")
	assert.Equal(t, int64(2), decisions["outcome=ALLOWED"])
	assert.Equal(t, int64(1), decisions["outcome=BLOCKED"])
	assert.Equal(t, int64(1), decisions["outcome=error"])

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, "engine.Check", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("ratelimiter.client_key", "alice"))
	assert.Contains(t, spans[2].Attributes(), attribute.Bool("ratelimiter.allowed", false))
	assert.Equal(t, codes.Error, spans[3].Status().Code)
}

func TestInstrumentedEngine_Passthrough(t *testing.T) {
	reader, recorder := installTestProviders(t)
	ie := newWrappedEngine(t)
	ctx := context.Background()

	_, err := ie.Check(ctx, "bob", 5, limiter.Config{})
	require.NoError(t, err)

	st, ok, err := ie.Status(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 95.0, st.Tokens, 1e-9)

	assert.Len(t, ie.Buckets(ctx), 1)
	assert.Equal(t, int64(1), ie.Metrics(ctx).TotalRequests)
	assert.Len(t, ie.Logs(ctx, 0), 1)
	assert.Equal(t, 1, ie.BucketCount())
	assert.Equal(t, 1, ie.LogSize())
	assert.Equal(t, 100.0, ie.Defaults().Capacity)

	require.NoError(t, ie.ResetBucket(ctx, "bob"))
	ie.ResetAll(ctx)
	assert.Zero(t, ie.BucketCount())
	assert.Zero(t, ie.Metrics(ctx).TotalRequests)

	resets := collectSum(t, reader, "ratelimiter.resets")
	assert.Equal(t, int64(1), resets["scope=bucket"])
	assert.Equal(t, int64(1), resets["scope=metrics"])

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"engine.Check", "engine.Status", "engine.Buckets", "engine.ResetBucket", "engine.ResetAll"}, names)
}

type erroringEngine struct {
	service.Engine
}

func (erroringEngine) ResetBucket(context.Context, string) error {
	return errors.New("boom")
}

func TestInstrumentedEngine_ResetErrorNotCounted(t *testing.T) {
	reader, recorder := installTestProviders(t)
	ie, err := NewInstrumentedEngine(erroringEngine{})
	require.NoError(t, err)

	assert.Error(t, ie.ResetBucket(context.Background(), "x"))
	assert.Empty(t, collectSum(t, reader, "ratelimiter.resets"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
