// Package telemetry wires the daemon's OpenTelemetry trace and metric
// pipelines when tracing is enabled in configuration.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config mirrors config.TracingConfig, kept separate so this package does
// not need to import internal/config.
type Config struct {
	Enabled      bool
	StdoutExport bool
	ServiceName  string
}

// Providers holds the global tracer and meter providers this package
// installed, plus a combined shutdown for graceful exit.
type Providers struct {
	Tracer   trace.TracerProvider
	Meter    metric.MeterProvider
	Shutdown func(context.Context) error
}

// Setup installs a tracer and meter provider per cfg. When cfg.Enabled is
// false it installs the otel no-op providers and returns a no-op shutdown,
// so callers never need to branch on whether tracing is on. StdoutExport is
// the only exporter this daemon ships with (§ ambient stack: no OTLP
// collector endpoint is part of this spec's scope), matching the
// stdouttrace/stdoutmetric exporters already pulled into go.mod.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return &Providers{
			Tracer:   otel.GetTracerProvider(),
			Meter:    otel.GetMeterProvider(),
			Shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "agenshield-daemon"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	// StdoutExport is the only exporter this daemon ships with; Enabled
	// without it still installs sampling providers (spans and metrics are
	// created and can be read via the SDK) but nothing is written out,
	// which is useful for local development without log noise.
	if cfg.StdoutExport {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: creating trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))

		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: creating metric exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := sdkmetric.NewMeterProvider(metricOpts...)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	return &Providers{
		Tracer: tracerProvider,
		Meter:  meterProvider,
		Shutdown: func(ctx context.Context) error {
			for _, fn := range shutdownFuncs {
				if err := fn(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}
