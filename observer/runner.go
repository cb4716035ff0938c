package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// jobRunner is the subset of *bigcontext.JobRunner that ObservedJobRunner
// wraps. Defined locally so tests can stub it without a real Store/Scheduler.
type jobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// ObservedJobRunner wraps a JobRunner to emit an OTEL lifecycle span, metrics,
// and a structured log for each job run. The span is the parent for every
// per-chunk span the scheduler's RemoteClient calls produce during the run.
type ObservedJobRunner struct {
	inner jobRunner
	inst  *Instruments
}

// WrapJobRunner returns an instrumented JobRunner that emits run-level telemetry.
func WrapJobRunner(inner jobRunner, inst *Instruments) *ObservedJobRunner {
	return &ObservedJobRunner{inner: inner, inst: inst}
}

// Run wraps the inner JobRunner's Run, emitting a job.run span that serves
// as the parent for all per-chunk spans dispatched during this run.
func (o *ObservedJobRunner) Run(ctx context.Context, jobID string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "job.run", trace.WithAttributes(
		AttrJobID.String(jobID),
	))
	defer span.End()
	start := time.Now()

	span.AddEvent("job.started")

	err := o.inner.Run(ctx, jobID)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if ctx.Err() != nil && err != nil {
		status = "cancelled"
		span.AddEvent("job.cancelled")
		span.SetStatus(codes.Error, "cancelled")
	} else if err != nil {
		status = "error"
		span.AddEvent("job.failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.AddEvent("job.completed")
	}

	span.SetAttributes(AttrJobStatus.String(status))

	attrs := metric.WithAttributes(
		AttrJobID.String(jobID),
		attribute.String("status", status),
	)
	o.inst.JobExecutions.Add(ctx, 1, attrs)
	o.inst.JobDuration.Record(ctx, durationMs, metric.WithAttributes(AttrJobID.String(jobID)))

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("job run completed"))
	rec.AddAttributes(
		oasislog.String("job.id", jobID),
		oasislog.String("job.status", status),
		oasislog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return err
}

// compile-time check
var _ jobRunner = (*ObservedJobRunner)(nil)
