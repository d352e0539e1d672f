package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/lolo"
)

// ObservedProvider wraps a lolo.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner lolo.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider.
func WrapProvider(inner lolo.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

var _ lolo.Provider = (*ObservedProvider)(nil)

func (o *ObservedProvider) Model() string { return o.inner.Model() }

func (o *ObservedProvider) Create(ctx context.Context, req lolo.Request) (*lolo.Response, error) {
	model := o.inner.Model()
	ctx, span := o.inst.Tracer.Start(ctx, "llm.create", trace.WithAttributes(
		AttrModel.String(model),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Create(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrModel.String(model),
	))
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModel.String(model),
		attribute.String("status", status),
	))
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		AttrInputTokens.Int(resp.Usage.InputTokens),
		AttrCachedTokens.Int(resp.Usage.CachedTokens),
		AttrOutputTokens.Int(resp.Usage.OutputTokens),
	)
	modelAttr := AttrModel.String(model)
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.InputTokens),
		metric.WithAttributes(modelAttr, AttrTokenType.String("input")))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.CachedTokens),
		metric.WithAttributes(modelAttr, AttrTokenType.String("cached")))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.OutputTokens),
		metric.WithAttributes(modelAttr, AttrTokenType.String("output")))

	_, webSearch, _ := resp.CountCalls()
	o.inst.CostTotal.Add(ctx, o.inst.Prices.Cost(model, resp.Usage, webSearch),
		metric.WithAttributes(modelAttr))

	return resp, nil
}
