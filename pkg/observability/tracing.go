package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for engine spans.
const TracerName = "salelink"

// Span attribute keys
const (
	AttrPropertyID = "property_id"
	AttrSaleID     = "sale_id"
	AttrCounty     = "county"
	AttrRunID      = "run_id"
	AttrEntryID    = "entry_id"
	AttrAgent      = "agent"
	AttrOutcome    = "outcome"
	AttrProcessed  = "processed"
	AttrLinked     = "linked"
	AttrFailed     = "failed"
)

// Span names
const (
	SpanLinkProperty   = "salelink.link_property"
	SpanBulkLink       = "salelink.reconcile.bulk_link"
	SpanRecompute      = "salelink.reconcile.recompute_statuses"
	SpanResearchQueue  = "salelink.research.queue_unlinked"
	SpanResearchAssign = "salelink.research.assign"
	SpanResearchSolve  = "salelink.research.resolve"
	SpanResearchFail   = "salelink.research.fail"
)

// Tracer wraps the global OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer bound to the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// NewTracerFromProvider returns a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartLinkSpan starts a span for linking one property.
func (t *Tracer) StartLinkSpan(ctx context.Context, propertyID int64) (context.Context, *SpanHelper) {
	ctx, span := t.start(ctx, SpanLinkProperty, attribute.Int64(AttrPropertyID, propertyID))
	return ctx, NewSpanHelper(span)
}

// StartRunSpan starts a span for a bulk job.
func (t *Tracer) StartRunSpan(ctx context.Context, name, runID, county string) (context.Context, *SpanHelper) {
	attrs := []attribute.KeyValue{attribute.String(AttrRunID, runID)}
	if county != "" {
		attrs = append(attrs, attribute.String(AttrCounty, county))
	}
	ctx, span := t.start(ctx, name, attrs...)
	return ctx, NewSpanHelper(span)
}

// StartResearchSpan starts a span for a research queue operation.
func (t *Tracer) StartResearchSpan(ctx context.Context, name string, entryID int64) (context.Context, *SpanHelper) {
	var attrs []attribute.KeyValue
	if entryID != 0 {
		attrs = append(attrs, attribute.Int64(AttrEntryID, entryID))
	}
	ctx, span := t.start(ctx, name, attrs...)
	return ctx, NewSpanHelper(span)
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SpanHelper provides convenient methods for working with a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// Span returns the wrapped span.
func (h *SpanHelper) Span() trace.Span { return h.span }

// SetOutcome records a link or queue outcome.
func (h *SpanHelper) SetOutcome(outcome string) {
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetSale records the sale a property was linked to.
func (h *SpanHelper) SetSale(saleID int64) {
	h.span.SetAttributes(attribute.Int64(AttrSaleID, saleID))
}

// SetCounts records bulk run totals.
func (h *SpanHelper) SetCounts(processed, linked, failed int) {
	h.span.SetAttributes(
		attribute.Int(AttrProcessed, processed),
		attribute.Int(AttrLinked, linked),
		attribute.Int(AttrFailed, failed),
	)
}

// SetAgent records the agent acting on a research entry.
func (h *SpanHelper) SetAgent(agent string) {
	h.span.SetAttributes(attribute.String(AttrAgent, agent))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End ends the span, recording err if non-nil.
func (h *SpanHelper) End(err error) {
	if err != nil {
		h.SetError(err)
	} else {
		h.SetSuccess()
	}
	h.span.End()
}
