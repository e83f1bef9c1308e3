package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/mr14capture/internal/models"
	"github.com/Lllllllleong/mr14capture/internal/observability"
)

// ErrNotRetryable is returned when retrying a document that is not in the error state.
var ErrNotRetryable = errors.New("document is not in the error state")

// ManualModel completes documents with empty fields without calling the recognizer.
const ManualModel = "manual"

// Extractor is the single-attempt extraction capability used by the processor.
type Extractor interface {
	Extract(ctx context.Context, encodedContent, mimeType, model string) models.AttemptOutcome
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Throttle holds the proactive pauses between documents of one batch.
type Throttle struct {
	Default time.Duration
	// Slow applies when the requested model is one of SlowModels.
	Slow       time.Duration
	SlowModels []string
	// Manual is the pause before a manual-entry document completes.
	Manual time.Duration
}

// DefaultThrottle pauses 2s between documents, 4s for gemini-2.5-pro.
func DefaultThrottle() Throttle {
	return Throttle{
		Default:    2 * time.Second,
		Slow:       4 * time.Second,
		SlowModels: []string{"gemini-2.5-pro"},
		Manual:     500 * time.Millisecond,
	}
}

func (t Throttle) between(model string) time.Duration {
	for _, m := range t.SlowModels {
		if m == model {
			return t.Slow
		}
	}
	return t.Default
}

// DocumentQueueProcessor drives documents through the ExtractionClient one at a time, applying
// the RetryPolicy between attempts and writing every transition to the ReportCollection.
type DocumentQueueProcessor struct {
	collection *ReportCollection
	extractor  Extractor
	encoder    *Encoder
	policy     RetryPolicy
	throttle   Throttle
	sleep      Sleeper
	newID      func() string
	now        func() time.Time
	metrics    *observability.CaptureMetrics
	tracer     *observability.Tracer

	// Held while a document is with the recognizer, so separate batches never overlap.
	recognizerMu sync.Mutex
}

// ProcessorOption configures a DocumentQueueProcessor.
type ProcessorOption func(*DocumentQueueProcessor)

func WithRetryPolicy(p RetryPolicy) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.policy = p }
}

func WithThrottle(t Throttle) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.throttle = t }
}

// WithSleeper replaces real waiting, mainly for tests.
func WithSleeper(s Sleeper) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.sleep = s }
}

func WithEncoder(e *Encoder) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.encoder = e }
}

func WithIDGenerator(fn func() string) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.newID = fn }
}

func WithClock(fn func() time.Time) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.now = fn }
}

func WithProcessorMetrics(m *observability.CaptureMetrics) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.metrics = m }
}

func WithProcessorTracer(t *observability.Tracer) ProcessorOption {
	return func(q *DocumentQueueProcessor) { q.tracer = t }
}

// NewDocumentQueueProcessor creates a processor writing into collection.
func NewDocumentQueueProcessor(collection *ReportCollection, extractor Extractor, opts ...ProcessorOption) *DocumentQueueProcessor {
	p := &DocumentQueueProcessor{
		collection: collection,
		extractor:  extractor,
		policy:     DefaultRetryPolicy(),
		throttle:   DefaultThrottle(),
		sleep:      SleepContext,
		newID:      newDocumentID,
		now:        time.Now,
		tracer:     observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.encoder == nil {
		p.encoder = NewEncoder()
	}
	return p
}

// newDocumentID returns a time-ordered UUIDv7, falling back to a random v4.
func newDocumentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Process appends a placeholder per file, then settles each document in order. It returns once
// every document of the batch is completed or failed; a failing document never stops the batch.
func (p *DocumentQueueProcessor) Process(ctx context.Context, files []models.File, requestedModel string) models.BatchResult {
	batchID := p.newID()
	logCtx := slog.With("batchId", batchID, "model", requestedModel)
	ctx, span := p.tracer.StartBatchSpan(ctx, batchID, len(files))
	defer span.End()

	// --- 1. Create placeholders ---
	now := p.now()
	docs := make([]models.Document, len(files))
	result := models.BatchResult{BatchID: batchID, Total: len(files)}
	for i, f := range files {
		docs[i] = models.Document{
			ID:        p.newID(),
			BatchID:   batchID,
			Filename:  f.Name,
			MIMEType:  MediaType(f.MIMEType),
			State:     models.Pending{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		result.DocumentIDs = append(result.DocumentIDs, docs[i].ID)
	}
	p.collection.Append(docs...)
	for _, d := range docs {
		if _, err := p.collection.SetState(d.ID, models.Processing{}); err != nil {
			logCtx.Warn("Could not mark document as processing.", "documentId", d.ID, "error", err)
		}
	}
	logCtx.Info("Starting batch.", "fileCount", len(files))

	// --- 2. Settle documents strictly in order ---
	for i, f := range files {
		if i > 0 && requestedModel != ManualModel {
			// A cancelled wait is picked up by processDocument.
			_ = p.wait(ctx, "throttle", p.throttle.between(requestedModel))
		}

		switch p.processDocument(ctx, docs[i], f, requestedModel) {
		case models.StatusCompleted:
			result.Completed++
		default:
			result.Failed++
		}
		result.Settled++
		p.collection.PublishProgress(Progress{BatchID: batchID, Settled: result.Settled, Total: result.Total})
	}

	logCtx.Info("Batch finished.", "completed", result.Completed, "failed", result.Failed)
	return result
}

// Retry re-runs extraction for a failed document on the fallback model.
func (p *DocumentQueueProcessor) Retry(ctx context.Context, id string) error {
	doc, err := p.collection.Transition(id, func(d models.Document) (models.Document, error) {
		if d.Status() != models.StatusError {
			return d, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, d.Status())
		}
		return d.WithState(models.Processing{}, p.now()), nil
	})
	if err != nil {
		return err
	}

	logCtx := slog.With("documentId", id, "filename", doc.Filename, "model", p.policy.FallbackModel)
	logCtx.Info("Retrying document.")

	p.recognizerMu.Lock()
	defer p.recognizerMu.Unlock()

	ctx, span := p.tracer.StartDocumentSpan(ctx, id, doc.Filename)
	if doc.EncodedContent == "" {
		failure := Classify(fmt.Errorf("%w: no encoded content kept for %s", ErrDecode, doc.Filename))
		status := p.settleFailure(logCtx, id, failure)
		observability.EndWithStatus(span, string(status), string(failure.Kind))
		return nil
	}

	encoded := models.EncodedDocument{MIMEType: doc.MIMEType, Data: doc.EncodedContent}
	outcome := p.runAttempts(ctx, logCtx, encoded, p.policy.FallbackModel)
	status := p.settleOutcome(logCtx, id, outcome)
	observability.EndWithStatus(span, string(status), string(outcome.Failure.Kind))
	return nil
}

// RetryFailed retries the failed documents among ids in order, pausing between them as a batch
// does. It returns the number of documents retried.
func (p *DocumentQueueProcessor) RetryFailed(ctx context.Context, ids []string) int {
	retried := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			slog.Warn("Retries stopped.", "retried", retried, "error", err)
			break
		}
		if d, ok := p.collection.Get(id); !ok || d.Status() != models.StatusError {
			continue
		}
		if retried > 0 {
			if err := p.wait(ctx, "throttle", p.throttle.between(p.policy.FallbackModel)); err != nil {
				slog.Warn("Retries stopped.", "retried", retried, "error", err)
				break
			}
		}
		if err := p.Retry(ctx, id); err != nil {
			slog.Warn("Retry skipped.", "documentId", id, "error", err)
			continue
		}
		retried++
	}
	return retried
}

func (p *DocumentQueueProcessor) processDocument(ctx context.Context, doc models.Document, file models.File, requestedModel string) models.Status {
	p.recognizerMu.Lock()
	defer p.recognizerMu.Unlock()

	logCtx := slog.With("documentId", doc.ID, "batchId", doc.BatchID, "filename", doc.Filename)
	ctx, span := p.tracer.StartDocumentSpan(ctx, doc.ID, doc.Filename)

	status, kind := p.settleDocument(ctx, logCtx, doc, file, requestedModel)
	observability.EndWithStatus(span, string(status), string(kind))
	return status
}

func (p *DocumentQueueProcessor) settleDocument(ctx context.Context, logCtx *slog.Logger, doc models.Document, file models.File, requestedModel string) (models.Status, models.ErrorKind) {
	if err := ctx.Err(); err != nil {
		failure := models.Failure{Kind: models.KindCancelled, Message: err.Error(), Err: err}
		return p.settleFailure(logCtx, doc.ID, failure), failure.Kind
	}

	// --- Manual entry ---
	if requestedModel == ManualModel {
		if err := p.wait(ctx, "manual", p.throttle.Manual); err != nil {
			failure := models.Failure{Kind: models.KindCancelled, Message: err.Error(), Err: err}
			return p.settleFailure(logCtx, doc.ID, failure), failure.Kind
		}
		return p.settleOutcome(logCtx, doc.ID, models.Success(models.ExtractedFields{}, 0)), ""
	}

	// --- Encode ---
	encoded, err := p.encoder.Encode(file)
	if err != nil {
		failure := Classify(err)
		return p.settleFailure(logCtx, doc.ID, failure), failure.Kind
	}
	if _, err := p.collection.Transition(doc.ID, func(d models.Document) (models.Document, error) {
		d.EncodedContent = encoded.Data
		d.MIMEType = encoded.MIMEType
		return d, nil
	}); err != nil {
		logCtx.Warn("Could not store encoded content.", "error", err)
	}
	logCtx.Debug("Document encoded.", "mimeType", encoded.MIMEType, "pageCount", encoded.PageCount)

	// --- Extract with retries ---
	outcome := p.runAttempts(ctx, logCtx, encoded, requestedModel)
	return p.settleOutcome(logCtx, doc.ID, outcome), outcome.Failure.Kind
}

// runAttempts asks the RetryPolicy for the next step until it succeeds or gives up.
func (p *DocumentQueueProcessor) runAttempts(ctx context.Context, logCtx *slog.Logger, encoded models.EncodedDocument, requestedModel string) models.AttemptOutcome {
	maxAttempts := len(p.policy.Models(requestedModel))
	var history []Attempt
	for {
		action := p.policy.Next(requestedModel, history)
		if action.Kind != ActionRetry {
			return action.Outcome
		}

		if len(history) > 0 {
			last := history[len(history)-1].Outcome
			logCtx.Warn(
				"Attempt failed, will retry.",
				"attempt", len(history),
				"maxAttempts", maxAttempts,
				"nextModel", action.Model,
				"backoff", action.Delay.String(),
				"error", last.Failure.Error(),
			)
			reason := "fatal_backoff"
			if last.Kind == models.OutcomeTransient {
				reason = "transient_backoff"
			}
			if err := p.wait(ctx, reason, action.Delay); err != nil {
				return models.FailureOutcome(models.Failure{Kind: models.KindCancelled, Message: err.Error(), Err: err})
			}
		}

		outcome := p.extractor.Extract(ctx, encoded.Data, encoded.MIMEType, action.Model)
		history = append(history, Attempt{Model: action.Model, Outcome: outcome})
	}
}

func (p *DocumentQueueProcessor) settleOutcome(logCtx *slog.Logger, id string, outcome models.AttemptOutcome) models.Status {
	if !outcome.Succeeded() {
		return p.settleFailure(logCtx, id, outcome.Failure)
	}
	p.setTerminal(logCtx, id, models.Completed{Fields: outcome.Fields, ConfidenceScore: outcome.ConfidenceScore})
	logCtx.Info("Document completed.", "confidenceScore", outcome.ConfidenceScore)
	p.metrics.RecordSettled(string(models.StatusCompleted), "")
	return models.StatusCompleted
}

func (p *DocumentQueueProcessor) settleFailure(logCtx *slog.Logger, id string, failure models.Failure) models.Status {
	message := FinalMessage(failure)
	p.setTerminal(logCtx, id, models.Failed{Failure: failure, Message: message})
	logCtx.Error("Document failed.", "kind", failure.Kind, "message", message, "error", failure.Error())
	p.metrics.RecordSettled(string(models.StatusError), string(failure.Kind))
	return models.StatusError
}

func (p *DocumentQueueProcessor) setTerminal(logCtx *slog.Logger, id string, s models.State) {
	if _, err := p.collection.SetState(id, s); err != nil {
		// The user may delete a document while it is being processed.
		logCtx.Warn("Document no longer in collection, result dropped.", "error", err)
	}
}

func (p *DocumentQueueProcessor) wait(ctx context.Context, reason string, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	p.metrics.RecordWait(reason, d.Seconds())
	return p.sleep(ctx, d)
}
