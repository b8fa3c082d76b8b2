package otelcol

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/otelcol/exporters"
)

var Module = fx.Module("otelcol",
	fx.Provide(NewTracerProvider, NewMeterProvider),
)

func Resource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
}

func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// NewTracerProvider installs the global tracer provider and W3C propagation.
// Spans are exported over OTLP when OTEL.ADDR is set.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.Otel.Addr != "" {
		switch cfg.Otel.Protocol {
		case "http":
			exporter, err = exporters.ProvideHttp(cfg)
		case "grpc", "":
			exporter, err = exporters.ProvideGrpc(cfg)
		default:
			err = fmt.Errorf("unknown otel protocol %q", cfg.Otel.Protocol)
		}
		if err != nil {
			return nil, err
		}
	} else {
		zap.L().Info("OTEL.ADDR not set, spans are not exported")
	}

	tp := ProvideTrace(exporter, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func NewMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
