package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/mr14capture/internal/models"
	"github.com/Lllllllleong/mr14capture/internal/observability"
)

// Recognizer is the external vision-language capability: given a model and a document it
// returns the raw response text or fails.
type Recognizer interface {
	Recognize(ctx context.Context, model string, doc models.EncodedDocument) (string, error)
}

// ExtractionClient performs a single recognizer call and turns the result into an
// AttemptOutcome. It knows nothing about queues or retries.
type ExtractionClient struct {
	recognizer Recognizer
	timeout    time.Duration
	metrics    *observability.CaptureMetrics
	tracer     *observability.Tracer
}

// ExtractionOption configures an ExtractionClient.
type ExtractionOption func(*ExtractionClient)

// WithRequestTimeout bounds each recognizer call.
func WithRequestTimeout(d time.Duration) ExtractionOption {
	return func(c *ExtractionClient) { c.timeout = d }
}

func WithExtractionMetrics(m *observability.CaptureMetrics) ExtractionOption {
	return func(c *ExtractionClient) { c.metrics = m }
}

func WithExtractionTracer(t *observability.Tracer) ExtractionOption {
	return func(c *ExtractionClient) { c.tracer = t }
}

// NewExtractionClient wraps r. The default per-call timeout is two minutes.
func NewExtractionClient(r Recognizer, opts ...ExtractionOption) *ExtractionClient {
	c := &ExtractionClient{
		recognizer: r,
		timeout:    2 * time.Minute,
		tracer:     observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract sends one encoded document to model and classifies the result.
func (c *ExtractionClient) Extract(ctx context.Context, encodedContent, mimeType, model string) models.AttemptOutcome {
	logCtx := slog.With("model", model, "mimeType", mimeType)
	ctx, span := c.tracer.StartRecognizerSpan(ctx, model)

	start := time.Now()
	outcome := c.extract(ctx, encodedContent, mimeType, model)
	elapsed := time.Since(start)

	kind := ""
	if !outcome.Succeeded() {
		kind = string(outcome.Failure.Kind)
		logCtx.Warn("Recognizer attempt failed.", "outcome", outcome.Kind.String(), "kind", kind, "statusCode", outcome.Failure.StatusCode, "error", outcome.Failure.Error())
	} else {
		logCtx.Info("Recognizer attempt succeeded.", "confidenceScore", outcome.ConfidenceScore, "elapsed", elapsed.String())
	}
	c.metrics.RecordAttempt(model, outcome.Kind.String(), kind, elapsed.Seconds())
	observability.EndWithStatus(span, outcome.Kind.String(), kind)
	return outcome
}

func (c *ExtractionClient) extract(ctx context.Context, encodedContent, mimeType, model string) models.AttemptOutcome {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	doc := models.EncodedDocument{MIMEType: mimeType, Data: StripDataURL(encodedContent)}
	text, err := c.recognizer.Recognize(callCtx, model, doc)
	if err != nil {
		// A cancelled parent is not the recognizer's fault.
		if ctx.Err() != nil {
			return models.FailureOutcome(models.Failure{Kind: models.KindCancelled, Message: ctx.Err().Error(), Err: ctx.Err()})
		}
		if callCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("recognizer call timed out after %s: %w", c.timeout, err)
		}
		return models.FailureOutcome(Classify(err))
	}

	fields, score, err := ParsePayload(text)
	if err != nil {
		return models.FailureOutcome(Classify(err))
	}
	return models.Success(fields, score)
}
