package observability

import (
	"context"
	"time"

	"ratelimiter/internal/models"
	"ratelimiter/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	records  metric.Int64Histogram
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency, error counts and snapshot sizes for every storage call.
func NewInstrumentedStorage(inner storage.Storage, backend string) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("ratelimiter/storage")
	meter := otel.Meter("ratelimiter/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Histogram(
		"storage.snapshot.buckets",
		metric.WithDescription("Number of buckets in each loaded or saved snapshot"),
		metric.WithUnit("{bucket}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		backend:  backend,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
		records:  records,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", s.backend),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", s.backend),
	)

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) LoadBuckets(ctx context.Context) ([]models.BucketRecord, error) {
	ctx, span := s.startSpan(ctx, "LoadBuckets")
	start := time.Now()
	result, err := s.inner.LoadBuckets(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("storage.buckets", len(result)))
		s.records.Record(ctx, int64(len(result)), metric.WithAttributes(attribute.String("operation", "LoadBuckets")))
	}
	s.record(ctx, span, "LoadBuckets", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveBuckets(ctx context.Context, records []models.BucketRecord) error {
	ctx, span := s.startSpan(ctx, "SaveBuckets", attribute.Int("storage.buckets", len(records)))
	start := time.Now()
	err := s.inner.SaveBuckets(ctx, records)
	if err == nil {
		s.records.Record(ctx, int64(len(records)), metric.WithAttributes(attribute.String("operation", "SaveBuckets")))
	}
	s.record(ctx, span, "SaveBuckets", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

// Ensure InstrumentedStorage implements storage.Storage
var _ storage.Storage = (*InstrumentedStorage)(nil)
