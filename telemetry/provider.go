package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Environment fallbacks for ProviderConfig.
const (
	EnvEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName = "OTEL_SERVICE_NAME"
)

// ProviderConfig configures OTLP trace export for one swarm node.
type ProviderConfig struct {
	// ServiceName defaults to OTEL_SERVICE_NAME, then "swarm-node".
	ServiceName string

	// NodeID is the local agent id, recorded as the service instance
	// and as swarm.agent.id on every span.
	NodeID string

	ServiceVersion string

	// Endpoint is the collector address, "host:port". A scheme prefix
	// is ignored. Defaults to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	// Insecure disables TLS.
	Insecure bool

	// Debug records task and proposal payload kinds on spans.
	Debug bool

	Headers map[string]string

	// SampleRatio is the fraction of new traces recorded. Spans that
	// join a propagated trace follow its decision. Zero records all.
	SampleRatio float64

	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

// resolve fills defaults from the environment and validates.
func (c ProviderConfig) resolve() (ProviderConfig, error) {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv(EnvEndpoint)
	}
	if c.Endpoint == "" {
		return c, fmt.Errorf("telemetry endpoint not configured (set endpoint or %s)", EnvEndpoint)
	}
	for _, scheme := range []string{"http://", "https://"} {
		c.Endpoint = strings.TrimPrefix(c.Endpoint, scheme)
	}

	if c.ServiceName == "" {
		c.ServiceName = os.Getenv(EnvServiceName)
	}
	if c.ServiceName == "" {
		c.ServiceName = "swarm-node"
	}

	switch c.Protocol {
	case "":
		c.Protocol = "grpc"
	case "grpc", "http":
	default:
		return c, fmt.Errorf("unknown protocol: %s (use 'grpc' or 'http')", c.Protocol)
	}

	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return c, fmt.Errorf("sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return c, nil
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio == 0 || c.SampleRatio == 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c ProviderConfig) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if c.NodeID != "" {
		attrs = append(attrs,
			semconv.ServiceInstanceID(c.NodeID),
			attribute.String("swarm.agent.id", c.NodeID),
		)
	}
	// Schemaless: resource.Default carries the SDK schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func (c ProviderConfig) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(c.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
		}
		if c.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(c.ExportTimeout))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(c.Headers))
	}
	if c.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(c.ExportTimeout))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Provider owns the SDK tracer provider behind a node's Tracer.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider starts OTLP export and installs the provider, the W3C
// trace-context propagator and the resulting Tracer as process globals.
// The Provider must be shut down to flush buffered spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	res, err := cfg.resource()
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}
	exporter, err := cfg.exporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracer(cfg.ServiceName, cfg.Debug)
	SetGlobalTracer(tracer)
	return &Provider{tp: tp, tracer: tracer}, nil
}

// Tracer returns the tracer bound to this provider.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and stops export.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports pending spans without stopping.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
