package observability

import (
	"context"
	"time"

	"ratelimiter/internal/limiter"
	"ratelimiter/internal/service"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedEngine wraps a service.Engine with a span per operation, a
// latency histogram for checks and a decision counter keyed by outcome.
// Client keys are recorded on spans only; metric attributes stay bounded.
type InstrumentedEngine struct {
	inner     service.Engine
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	decisions metric.Int64Counter
	resets    metric.Int64Counter
}

// NewInstrumentedEngine creates the decorator using the global OTel providers.
func NewInstrumentedEngine(inner service.Engine) (*InstrumentedEngine, error) {
	tracer := otel.Tracer("ratelimiter/engine")
	meter := otel.Meter("ratelimiter/engine")

	duration, err := meter.Float64Histogram(
		"ratelimiter.check.duration",
		metric.WithDescription("Duration of admission checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"ratelimiter.decisions",
		metric.WithDescription("Admission decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	resets, err := meter.Int64Counter(
		"ratelimiter.resets",
		metric.WithDescription("Bucket and counter resets"),
		metric.WithUnit("{reset}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedEngine{
		inner:     inner,
		tracer:    tracer,
		duration:  duration,
		decisions: decisions,
		resets:    resets,
	}, nil
}

func (e *InstrumentedEngine) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (e *InstrumentedEngine) Check(ctx context.Context, key string, requested float64, cfg limiter.Config) (limiter.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Check", trace.WithAttributes(
		attribute.String("ratelimiter.client_key", key),
		attribute.Float64("ratelimiter.requested", requested),
	))
	start := time.Now()
	d, err := e.inner.Check(ctx, key, requested, cfg)
	elapsed := time.Since(start).Seconds()

	outcome := "error"
	if err == nil {
		outcome = string(limiter.OutcomeBlocked)
		if d.Allowed {
			outcome = string(limiter.OutcomeAllowed)
		}
		span.SetAttributes(
			attribute.Bool("ratelimiter.allowed", d.Allowed),
			attribute.Int64("ratelimiter.remaining", d.Remaining),
		)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	e.duration.Record(ctx, elapsed, attrs)
	e.decisions.Add(ctx, 1, attrs)

	e.end(span, err)
	return d, err
}

func (e *InstrumentedEngine) Status(ctx context.Context, key string) (limiter.State, bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Status", trace.WithAttributes(
		attribute.String("ratelimiter.client_key", key),
	))
	st, ok, err := e.inner.Status(ctx, key)
	span.SetAttributes(attribute.Bool("ratelimiter.exists", ok))
	e.end(span, err)
	return st, ok, err
}

func (e *InstrumentedEngine) Buckets(ctx context.Context) []limiter.State {
	ctx, span := e.tracer.Start(ctx, "engine.Buckets")
	states := e.inner.Buckets(ctx)
	span.SetAttributes(attribute.Int("ratelimiter.buckets", len(states)))
	e.end(span, nil)
	return states
}

func (e *InstrumentedEngine) Metrics(ctx context.Context) limiter.Counters {
	return e.inner.Metrics(ctx)
}

func (e *InstrumentedEngine) Logs(ctx context.Context, limit int) []limiter.LogEntry {
	return e.inner.Logs(ctx, limit)
}

func (e *InstrumentedEngine) ResetBucket(ctx context.Context, key string) error {
	ctx, span := e.tracer.Start(ctx, "engine.ResetBucket", trace.WithAttributes(
		attribute.String("ratelimiter.client_key", key),
	))
	err := e.inner.ResetBucket(ctx, key)
	if err == nil {
		e.resets.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "bucket")))
	}
	e.end(span, err)
	return err
}

func (e *InstrumentedEngine) ResetAll(ctx context.Context) {
	ctx, span := e.tracer.Start(ctx, "engine.ResetAll")
	e.inner.ResetAll(ctx)
	e.resets.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "metrics")))
	e.end(span, nil)
}

func (e *InstrumentedEngine) BucketCount() int         { return e.inner.BucketCount() }
func (e *InstrumentedEngine) LogSize() int             { return e.inner.LogSize() }
func (e *InstrumentedEngine) Defaults() limiter.Config { return e.inner.Defaults() }
func (e *InstrumentedEngine) Now() time.Time           { return e.inner.Now() }

// Ensure InstrumentedEngine implements service.Engine
var _ service.Engine = (*InstrumentedEngine)(nil)
