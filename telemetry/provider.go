// Package telemetry provides OpenTelemetry tracing for turnsync: tracer
// provider setup, propagation, and the span helpers used around turn
// finalization and answer streams.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope every turnsync span is recorded under.
const ScopeName = "github.com/AltairaLabs/turnsync"

// Config describes where spans go and how this process identifies itself.
type Config struct {
	Endpoint    string
	ServiceName string
	// InstanceID distinguishes replicas that share a room bus.
	InstanceID string
	// SampleRatio outside (0,1] samples every root span.
	SampleRatio float64
}

// Enabled reports whether spans should be exported at all.
func (c Config) Enabled() bool { return c.Endpoint != "" }

func (c Config) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c Config) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{attribute.String("service.name", c.ServiceName)}
	if c.InstanceID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", c.InstanceID))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// Tracer returns the turnsync tracer from tp, or from the global provider
// when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(ScopeName)
}

// NewProvider builds an OTLP/HTTP exporting provider for cfg. Callers own
// the returned provider's Shutdown.
func NewProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	), nil
}

func noopShutdown(context.Context) error { return nil }

// Setup installs propagation and, when cfg is enabled, a global exporting
// provider. The returned shutdown func is never nil.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	SetupPropagation()
	if !cfg.Enabled() {
		return noopShutdown, nil
	}
	tp, err := NewProvider(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SetupPropagation accepts W3C traceparent/baggage and X-Ray headers on the
// websocket upgrade request.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	))
}
