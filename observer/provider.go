package observer

import (
	"context"
	"time"

	"github.com/nevindra/bigcontext"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oasislog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRemoteClient wraps a bigcontext.RemoteClient with OTEL instrumentation.
type ObservedRemoteClient struct {
	inner bigcontext.RemoteClient
	inst  *Instruments
}

// WrapRemoteClient returns an instrumented RemoteClient that emits traces,
// metrics, and logs for each chunk call.
func WrapRemoteClient(inner bigcontext.RemoteClient, inst *Instruments) *ObservedRemoteClient {
	return &ObservedRemoteClient{inner: inner, inst: inst}
}

func (o *ObservedRemoteClient) Name() string { return o.inner.Name() }

func (o *ObservedRemoteClient) Complete(ctx context.Context, modelID string, messages []bigcontext.ChatMessage, maxTokens int) (string, string, bigcontext.Usage, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "job.chunk.complete", trace.WithAttributes(
		AttrModel.String(modelID),
		AttrProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	content, finishReason, usage, err := o.inner.Complete(ctx, modelID, messages, maxTokens)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, modelID, status, durationMs, usage)
	return content, finishReason, usage, err
}

func (o *ObservedRemoteClient) record(ctx context.Context, span trace.Span, modelID, status string, durationMs float64, usage bigcontext.Usage) {
	cost := usage.Cost
	if cost == 0 {
		cost = o.inst.Cost.Calculate(modelID, usage.PromptTokens, usage.CompletionTokens)
	}

	attrs := metric.WithAttributes(
		AttrModel.String(modelID),
		AttrProvider.String(o.inner.Name()),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.PromptTokens),
		AttrTokensOutput.Int(usage.CompletionTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
		AttrModel.String(modelID),
		AttrProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
		AttrModel.String(modelID),
		AttrProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.ChunkRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModel.String(modelID),
		AttrProvider.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.ChunkDuration.Record(ctx, durationMs, attrs)

	var rec oasislog.Record
	rec.SetSeverity(oasislog.SeverityInfo)
	rec.SetBody(oasislog.StringValue("chunk completion finished"))
	rec.AddAttributes(
		oasislog.String("llm.model", modelID),
		oasislog.String("llm.provider", o.inner.Name()),
		oasislog.Int("llm.tokens.input", usage.PromptTokens),
		oasislog.Int("llm.tokens.output", usage.CompletionTokens),
		oasislog.Float64("llm.cost_usd", cost),
		oasislog.Float64("llm.duration_ms", durationMs),
		oasislog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// compile-time check
var _ bigcontext.RemoteClient = (*ObservedRemoteClient)(nil)
