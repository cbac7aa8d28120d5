// Package observability wires OpenTelemetry tracing and metrics into the
// rate limiter. Traces go to stdout or an OTLP collector; metrics are
// exposed through the OTel Prometheus exporter on a separate port.
package observability

import (
	"context"
	"errors"
	"fmt"

	"ratelimiter/internal/models"
	"ratelimiter/internal/version"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider owns the telemetry pipelines of one process. Either pipeline
// may be absent when it is disabled in configuration.
type Provider struct {
	resource       *resource.Resource
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	promExporter   *prometheus.Exporter
}

// Resource describes this instance to every exporter.
func (p *Provider) Resource() *resource.Resource {
	return p.resource
}

// MetricsEnabled reports whether the Prometheus pipeline is running.
func (p *Provider) MetricsEnabled() bool {
	return p.promExporter != nil
}

// TracingEnabled reports whether spans are exported.
func (p *Provider) TracingEnabled() bool {
	return p.tracerProvider != nil
}

// Shutdown flushes pending spans and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Setup builds the tracing and metrics pipelines selected by configuration
// and installs them as the global OTel providers, which the instrumented
// engine and storage read. The returned Provider must be shut down on exit.
func Setup(metrics models.MetricsConfig, obs models.ObservabilityConfig, ver version.Info) (*Provider, error) {
	res, err := newResource(obs, ver)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	p := &Provider{resource: res}

	if obs.Tracing.Enabled {
		exporter, err := newTraceExporter(obs.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(newSampler(obs.Tracing.SampleRate)),
		)
		otel.SetTracerProvider(p.tracerProvider)
	}

	if metrics.Enabled {
		promExporter, err := prometheus.New()
		if err != nil {
			// Stop the tracer built above.
			_ = p.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		p.promExporter = promExporter
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExporter),
		)
		otel.SetMeterProvider(p.meterProvider)
	}

	return p, nil
}

func newResource(obs models.ObservabilityConfig, ver version.Info) (*resource.Resource, error) {
	environment := obs.Environment
	if environment == "" {
		environment = "development"
	}

	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(ver.Version),
			semconv.ServiceInstanceID(ver.InstanceID),
			semconv.DeploymentEnvironment(environment),
			attribute.String("host.name", ver.Hostname),
			attribute.String("vcs.commit", ver.GitCommit),
		),
	)
}

func newTraceExporter(cfg models.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// newSampler honours an upstream sampling decision and applies rate only to
// traces that start here.
func newSampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}
