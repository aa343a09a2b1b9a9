package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig holds configuration for the metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // Empty string disables OTLP export
	Insecure       bool
}

// MetricsProvider wraps the OpenTelemetry meter provider with shutdown capabilities.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
}

// InitMetrics initializes the OpenTelemetry meter provider. Counters
// created by package init functions before this call are bound to the
// global delegate and start exporting once the provider is set.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*MetricsProvider, error) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(serviceResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)),
	}

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	return &MetricsProvider{provider: provider}, nil
}

// Shutdown flushes any remaining metrics and shuts down the provider.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}

// Telemetry groups the tracer and meter providers of one process.
type Telemetry struct {
	Tracer  *TracerProvider
	Metrics *MetricsProvider
}

// InitTelemetry starts tracing then metrics with the same service identity.
func InitTelemetry(ctx context.Context, cfg TracerConfig) (*Telemetry, error) {
	tp, err := InitTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}
	mp, err := InitMetrics(ctx, MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.Insecure,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("initialize metrics: %w", err), tp.Shutdown(ctx))
	}
	return &Telemetry{Tracer: tp, Metrics: mp}, nil
}

// Shutdown flushes metrics first, then spans, in reverse start order.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Metrics.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}
