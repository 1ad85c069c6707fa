// Package telemetry wires OpenTelemetry traces and metrics for crsd.
// With no OTLP endpoint configured the global no-op providers stay in place.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/mind-engage/mindengage-crs"

type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port for gRPC; empty disables export
	Insecure       bool
}

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	logger := slog.Default().With("component", "telemetry")
	if cfg.OTLPEndpoint == "" {
		logger.InfoContext(ctx, "telemetry export disabled")
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		),
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		),
	}
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "telemetry initialized", "endpoint", cfg.OTLPEndpoint, "insecure", cfg.Insecure)
	return p, nil
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Instruments are the spans and RED-style metrics of the scoring engine.
type Instruments struct {
	Tracer trace.Tracer

	Recalculations metric.Int64Counter
	Changes        metric.Int64Counter
	Failures       metric.Int64Counter
	BulkRows       metric.Int64Counter
	Duration       metric.Float64Histogram
}

// NewInstruments binds to the global providers, so it works before and
// after Setup.
func NewInstruments() (*Instruments, error) {
	return newInstruments(otel.Meter(instrumentationName), otel.Tracer(instrumentationName))
}

// Noop discards everything.
func Noop() *Instruments {
	in, _ := newInstruments(metricnoop.NewMeterProvider().Meter(""), tracenoop.NewTracerProvider().Tracer(""))
	return in
}

func newInstruments(meter metric.Meter, tracer trace.Tracer) (*Instruments, error) {
	in := &Instruments{Tracer: tracer}

	var err error
	if in.Recalculations, err = meter.Int64Counter("crs.recalculations",
		metric.WithDescription("Live CRS recalculations")); err != nil {
		return nil, err
	}
	if in.Changes, err = meter.Int64Counter("crs.changes",
		metric.WithDescription("Recalculations that wrote a history row")); err != nil {
		return nil, err
	}
	if in.Failures, err = meter.Int64Counter("crs.failures",
		metric.WithDescription("Recalculations that failed")); err != nil {
		return nil, err
	}
	if in.BulkRows, err = meter.Int64Counter("crs.bulk.rows",
		metric.WithDescription("Bulk ingest rows by outcome")); err != nil {
		return nil, err
	}
	if in.Duration, err = meter.Float64Histogram("crs.recalculate.duration",
		metric.WithDescription("Recalculation latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return in, nil
}
