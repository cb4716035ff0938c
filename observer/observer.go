// Package observer provides OTEL-based observability for the big-context
// processing engine.
//
// It wraps RemoteClient and JobRunner with instrumented versions that emit
// traces, metrics, and logs via OpenTelemetry. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/bigcontext/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger oasislog.Logger

	// Counters
	TokenUsage    metric.Int64Counter
	CostTotal     metric.Float64Counter
	ChunkRequests metric.Int64Counter
	StitchSkipped metric.Int64Counter

	// Histograms
	ChunkDuration metric.Float64Histogram

	// Job-level
	JobExecutions metric.Int64Counter
	JobDuration   metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("bigcontext")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("job.chunk.tokens",
		metric.WithDescription("Total tokens consumed per chunk call"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	costTotal, err := meter.Float64Counter("job.chunk.cost",
		metric.WithDescription("Cumulative chunk-processing cost in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	chunkRequests, err := meter.Int64Counter("job.chunk.requests",
		metric.WithDescription("Remote Client calls made while processing chunks"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	stitchSkipped, err := meter.Int64Counter("job.stitch.skipped",
		metric.WithDescription("Stitch passes skipped under the output-budget safety rule"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}

	chunkDuration, err := meter.Float64Histogram("job.chunk.duration",
		metric.WithDescription("Per-chunk Remote Client call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	jobExecutions, err := meter.Int64Counter("job.executions",
		metric.WithDescription("Job run count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	jobDuration, err := meter.Float64Histogram("job.duration",
		metric.WithDescription("End-to-end job run duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:        tracer,
		Meter:         meter,
		Logger:        logger,
		TokenUsage:    tokenUsage,
		CostTotal:     costTotal,
		ChunkRequests: chunkRequests,
		StitchSkipped: stitchSkipped,
		ChunkDuration: chunkDuration,
		JobExecutions: jobExecutions,
		JobDuration:   jobDuration,
		Cost:          NewCostCalculator(pricing),
	}, nil
}
