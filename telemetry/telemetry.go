// Package telemetry wires optional OTLP-over-HTTP tracing for the Agent
// and Gateway processes.
//
// When no endpoint is configured, Start returns a no-op tracer: tracing is
// a diagnostic add-on, never a request-path dependency.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"

	"github.com/tiammomo/ShuaiTravelAgent/log"
)

const (
	serviceNamespace = "travel-agent"
	instrumentName   = "travel-agent.tracer"
)

// Tracer is the process-wide tracer. Start replaces it; until Start is
// called (or when it is called with no endpoint configured) it stays a
// no-op so span calls are always safe.
var Tracer trace.Tracer = noopt.Tracer{}

// Option configures Start.
type Option func(*options)

type options struct {
	endpoint       string
	serviceName    string
	serviceVersion string
}

// WithEndpoint overrides the OTLP traces endpoint (host:port, no scheme).
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithServiceName sets the resource's service.name attribute, distinguishing
// the Agent process from the Gateway process in a shared trace backend.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

func tracesEndpoint() string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); v != "" {
		return v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return ""
}

// Start configures OTLP-over-HTTP tracing and installs the global tracer
// provider. If no endpoint is configured (by option or environment
// variable), Start is a no-op and returns a no-op cleanup func: tracing
// stays off by default, matching the module's "optional observability,
// never a hard dependency" policy.
func Start(ctx context.Context, opts ...Option) (shutdown func(context.Context) error, err error) {
	o := &options{
		endpoint:       tracesEndpoint(),
		serviceName:    "travel-agent",
		serviceVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.endpoint == "" {
		log.Infof("telemetry: no OTLP endpoint configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(o.serviceName),
			semconv.ServiceVersion(o.serviceVersion),
			semconv.ServiceNamespace(serviceNamespace),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(o.endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(instrumentName)
	log.Infof("telemetry: tracing enabled, endpoint=%s service=%s", o.endpoint, o.serviceName)

	return func(shutdownCtx context.Context) error {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}
