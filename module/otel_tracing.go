package module

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/modular"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelTracingConfig configures span export for the control plane.
type OTelTracingConfig struct {
	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string
	// ServiceName defaults to "gameserver".
	ServiceName string
	// Environment is recorded as deployment.environment when set.
	Environment string
	// Insecure exports over plain HTTP.
	Insecure bool
	// SampleRatio is the fraction of new traces kept, in [0, 1]. Incoming
	// sampled parents are always honored. Values outside the range keep
	// every trace.
	SampleRatio float64
}

// OTelTracing installs the global tracer provider that the lifecycle
// controller and the HTTP middleware record into. Until it starts, spans go
// to the no-op provider.
type OTelTracing struct {
	name     string
	cfg      OTelTracingConfig
	provider *sdktrace.TracerProvider
	logger   modular.Logger
}

// NewOTelTracing creates the tracing module.
func NewOTelTracing(name string, cfg OTelTracingConfig) *OTelTracing {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gameserver"
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	return &OTelTracing{name: name, cfg: cfg, logger: &noopLogger{}}
}

func (o *OTelTracing) Name() string { return o.name }

func (o *OTelTracing) Init(app modular.Application) error {
	o.logger = app.Logger()
	return nil
}

func (o *OTelTracing) sampler() sdktrace.Sampler {
	if o.cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.cfg.SampleRatio))
}

func (o *OTelTracing) resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(o.cfg.ServiceName))}
	if o.cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(o.cfg.Environment)))
	}
	return resource.New(ctx, attrs...)
}

// Start creates the OTLP exporter and installs the provider and the W3C
// propagators globally. The exporter connects lazily.
func (o *OTelTracing) Start(ctx context.Context) error {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(o.cfg.Endpoint)}
	if o.cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("tracing %q: create OTLP exporter: %w", o.name, err)
	}
	res, err := o.resource(ctx)
	if err != nil {
		return fmt.Errorf("tracing %q: build resource: %w", o.name, err)
	}

	o.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(o.sampler()),
	)
	otel.SetTracerProvider(o.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	o.logger.Info("Span export started", "endpoint", o.cfg.Endpoint, "service", o.cfg.ServiceName, "sample_ratio", o.cfg.SampleRatio)
	return nil
}

// Stop flushes buffered spans. It is safe to call without Start.
func (o *OTelTracing) Stop(ctx context.Context) error {
	if o.provider == nil {
		return nil
	}
	if err := o.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing %q: shutdown: %w", o.name, err)
	}
	o.logger.Info("Span export stopped")
	return nil
}

func (o *OTelTracing) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: o.name, Description: "Control plane span export", Instance: o},
	}
}

func (o *OTelTracing) RequiresServices() []modular.ServiceDependency {
	return nil
}
