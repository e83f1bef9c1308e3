package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for capture operations.
	TracerName = "mr14capture"
)

// Span attribute keys
const (
	AttrBatchID    = "batch_id"
	AttrDocumentID = "document_id"
	AttrFilename   = "filename"
	AttrModel      = "model"
	AttrStatus     = "status"
	AttrErrorKind  = "error_kind"
	AttrFileCount  = "file_count"
)

// Span names
const (
	SpanProcessBatch    = "mr14.process_batch"
	SpanProcessDocument = "mr14.process_document"
	SpanRecognizerCall  = "mr14.recognizer_call"
)

// Tracer provides spans for capture operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartBatchSpan starts the root span of a Process call.
func (t *Tracer) StartBatchSpan(ctx context.Context, batchID string, fileCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessBatch,
		trace.WithAttributes(
			attribute.String(AttrBatchID, batchID),
			attribute.Int(AttrFileCount, fileCount),
		),
	)
}

// StartDocumentSpan starts a span for one document.
func (t *Tracer) StartDocumentSpan(ctx context.Context, documentID, filename string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessDocument,
		trace.WithAttributes(
			attribute.String(AttrDocumentID, documentID),
			attribute.String(AttrFilename, filename),
		),
	)
}

// StartRecognizerSpan starts a span for one recognizer call.
func (t *Tracer) StartRecognizerSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRecognizerCall,
		trace.WithAttributes(
			attribute.String(AttrModel, model),
		),
	)
}

// EndWithStatus records the final status on span and ends it.
func EndWithStatus(span trace.Span, status, kind string) {
	span.SetAttributes(attribute.String(AttrStatus, status))
	if kind != "" {
		span.SetAttributes(attribute.String(AttrErrorKind, kind))
		span.SetStatus(codes.Error, kind)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
