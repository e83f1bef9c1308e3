package services

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

func statuses(docs []models.Document) []models.Status {
	out := make([]models.Status, len(docs))
	for i, d := range docs {
		out[i] = d.Status()
	}
	return out
}

func TestProcessSequentialBatch(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{}
	sleeps := &sleepRecorder{}
	p := newTestProcessor(c, ex, sleeps)
	files := []models.File{pngFile("a.png"), pngFile("b.png"), pngFile("c.png")}

	result := p.Process(context.Background(), files, flash)

	assert.Equal(t, "id-1", result.BatchID)
	assert.Equal(t, []string{"id-2", "id-3", "id-4"}, result.DocumentIDs)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Settled)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 0, result.Failed)

	// Documents reach the recognizer in upload order.
	require.Len(t, ex.calls, 3)
	for i, f := range files {
		assert.Equal(t, base64.StdEncoding.EncodeToString(f.Content), ex.calls[i].data)
		assert.Equal(t, "image/png", ex.calls[i].mimeType)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeps.recorded())

	docs := c.Snapshot()
	assert.Equal(t, []models.Status{models.StatusCompleted, models.StatusCompleted, models.StatusCompleted}, statuses(docs))
	for i, d := range docs {
		assert.Equal(t, files[i].Name, d.Filename)
		assert.Equal(t, "id-1", d.BatchID)
		assert.NotEmpty(t, d.EncodedContent)
	}
}

func TestProcessSlowModelThrottle(t *testing.T) {
	sleeps := &sleepRecorder{}
	p := newTestProcessor(NewReportCollection(), &scriptedExtractor{}, sleeps)

	p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, pro)

	assert.Equal(t, []time.Duration{4 * time.Second}, sleeps.recorded())
}

func TestProcessAppendsToExistingDocuments(t *testing.T) {
	c := NewReportCollection()
	c.Append(newDoc("old-1", completedState("Previo", 9)), newDoc("old-2", models.Failed{Message: "x"}))
	before := c.Snapshot()
	p := newTestProcessor(c, &scriptedExtractor{}, &sleepRecorder{})

	p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png"), pngFile("c.png")}, flash)

	after := c.Snapshot()
	require.Len(t, after, 5)
	assert.Equal(t, before, after[:2])
}

func TestProcessPublishesLifecycle(t *testing.T) {
	c := NewReportCollection()
	var log eventLog
	c.Subscribe(log.observe)
	p := newTestProcessor(c, &scriptedExtractor{}, &sleepRecorder{})

	p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, flash)

	added := log.ofType(EventAdded)
	require.Len(t, added, 2)
	for _, ev := range added {
		assert.Equal(t, models.StatusPending, ev.Document.Status())
	}

	var completedFrom []models.Status
	for _, ev := range log.ofType(EventStatusChanged) {
		if ev.Document.Status() == models.StatusCompleted {
			completedFrom = append(completedFrom, ev.From)
		}
	}
	assert.Equal(t, []models.Status{models.StatusProcessing, models.StatusProcessing}, completedFrom)

	progress := log.ofType(EventProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Progress.Settled)
	assert.Equal(t, 2, progress[1].Progress.Settled)
	assert.Equal(t, 2, progress[1].Progress.Total)
}

func TestProcessManualEntry(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{}
	sleeps := &sleepRecorder{}
	p := newTestProcessor(c, ex, sleeps)

	result := p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, ManualModel)

	assert.Equal(t, 2, result.Completed)
	assert.Empty(t, ex.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeps.recorded())
	for _, d := range c.Snapshot() {
		res, ok := d.Result()
		require.True(t, ok)
		assert.Equal(t, models.ExtractedFields{}, res.Fields)
		assert.Equal(t, 0, res.ConfidenceScore)
	}
}

// Two documents succeed on the requested model and the third runs out of models on quota errors.
// The third stays failed and retryable while the other two keep their results.
func TestProcessQuotaExhaustionThenRetry(t *testing.T) {
	c := NewReportCollection()
	var log eventLog
	c.Subscribe(log.observe)
	ex := &scriptedExtractor{script: []models.AttemptOutcome{
		fieldsOutcome("Uno", 9),
		fieldsOutcome("Dos", 7),
		quotaFailure(),
		quotaFailure(),
		quotaFailure(),
	}}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	result := p.Process(context.Background(), []models.File{pngFile("1.png"), pngFile("2.png"), pngFile("3.png")}, pro)

	assert.Equal(t, 3, result.Settled)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{pro, pro, pro, flash, flash}, ex.calledModels())

	var settled []int
	for _, ev := range log.ofType(EventProgress) {
		settled = append(settled, ev.Progress.Settled)
	}
	assert.Equal(t, []int{1, 2, 3}, settled)

	docs := c.Snapshot()
	require.Len(t, docs, 3)
	for i, want := range []struct {
		inmueble string
		score    int
	}{{"Uno", 9}, {"Dos", 7}} {
		res, ok := docs[i].Result()
		require.True(t, ok)
		assert.Equal(t, want.inmueble, res.Fields.Inmueble)
		assert.Equal(t, want.score, res.ConfidenceScore)
	}
	failed, ok := docs[2].State.(models.Failed)
	require.True(t, ok)
	assert.Equal(t, models.KindQuota, failed.Failure.Kind)
	assert.True(t, strings.HasPrefix(failed.Message, "LÍMITE DE CUOTA EXCEDIDO (429): "), failed.Message)

	require.NoError(t, p.Retry(context.Background(), docs[2].ID))
	d, ok := c.Get(docs[2].ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, d.Status())
	assert.Equal(t, flash, ex.calledModels()[5])
}

// The second document hits the quota on the requested model and on the first fallback attempt,
// then succeeds. The batch keeps going and the order of work is unchanged.
func TestProcessQuotaRecovery(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{
		fieldsOutcome("Uno", 9),
		quotaFailure(),
		quotaFailure(),
		fieldsOutcome("Dos", 6),
		fieldsOutcome("Tres", 8),
	}}
	sleeps := &sleepRecorder{}
	p := newTestProcessor(c, ex, sleeps)

	result := p.Process(context.Background(), []models.File{pngFile("1.png"), pngFile("2.png"), pngFile("3.png")}, pro)

	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, []string{pro, pro, flash, flash, pro}, ex.calledModels())
	assert.Equal(t, []time.Duration{4 * time.Second, 5 * time.Second, 10 * time.Second, 4 * time.Second}, sleeps.recorded())

	docs := c.Snapshot()
	var inmuebles []string
	for _, d := range docs {
		res, ok := d.Result()
		require.True(t, ok)
		inmuebles = append(inmuebles, res.Fields.Inmueble)
	}
	assert.Equal(t, []string{"Uno", "Dos", "Tres"}, inmuebles)
}

func TestProcessContentSafetyStopsImmediately(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{
		models.FailureOutcome(models.Failure{Kind: models.KindContentSafety, Message: "blocked"}),
	}}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	result := p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, pro)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, []string{pro, pro}, ex.calledModels(), "no fallback attempt for the blocked document")

	msg, ok := c.Snapshot()[0].ErrorMessage()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(msg, "CONTENIDO BLOQUEADO: "), msg)
}

func TestProcessExhaustsModelList(t *testing.T) {
	malformed := models.FailureOutcome(models.Failure{Kind: models.KindMalformed, Message: "invalid json"})
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{malformed, malformed, malformed}}
	sleeps := &sleepRecorder{}
	p := newTestProcessor(c, ex, sleeps)

	result := p.Process(context.Background(), []models.File{pngFile("a.png")}, pro)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{pro, flash, flash}, ex.calledModels())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeps.recorded())

	d := c.Snapshot()[0]
	failed, ok := d.State.(models.Failed)
	require.True(t, ok)
	assert.Equal(t, models.KindMalformed, failed.Failure.Kind)
	assert.True(t, strings.HasPrefix(failed.Message, "ERROR DE LECTURA (JSON): "))
}

func TestProcessUnreadableFileDoesNotStopBatch(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{}
	p := newTestProcessor(c, ex, &sleepRecorder{})
	empty := models.File{Name: "empty.png", MIMEType: "image/png"}

	result := p.Process(context.Background(), []models.File{empty, pngFile("b.png")}, flash)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Completed)
	assert.Len(t, ex.calls, 1)

	failed, ok := c.Snapshot()[0].State.(models.Failed)
	require.True(t, ok)
	assert.Equal(t, models.KindDecode, failed.Failure.Kind)
}

func TestProcessCancelledSettlesEveryDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewReportCollection()
	ex := &scriptedExtractor{}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	result := p.Process(ctx, []models.File{pngFile("a.png"), pngFile("b.png")}, flash)

	assert.Equal(t, 2, result.Settled)
	assert.Equal(t, 2, result.Failed)
	assert.Empty(t, ex.calls)
	for _, d := range c.Snapshot() {
		failed, ok := d.State.(models.Failed)
		require.True(t, ok)
		assert.Equal(t, models.KindCancelled, failed.Failure.Kind)
	}
}

func TestProcessSerializesConcurrentBatches(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{delay: 5 * time.Millisecond}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, flash)
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, c.Len())
	assert.Len(t, ex.calls, 6)
	assert.Equal(t, int32(1), ex.maxSeen.Load())
}

func TestRetry(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{quotaFailure(), quotaFailure(), quotaFailure()}}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	result := p.Process(context.Background(), []models.File{pngFile("a.png")}, pro)
	require.Equal(t, 1, result.Failed)
	id := result.DocumentIDs[0]

	require.NoError(t, p.Retry(context.Background(), id))

	d, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, d.Status())
	assert.Equal(t, []string{pro, flash, flash, flash}, ex.calledModels())

	assert.ErrorIs(t, p.Retry(context.Background(), id), ErrNotRetryable)
	assert.ErrorIs(t, p.Retry(context.Background(), "missing"), ErrNotFound)
}

func TestRetryFailedPausesBetweenDocuments(t *testing.T) {
	blocked := models.FailureOutcome(models.Failure{Kind: models.KindContentSafety, Message: "blocked"})
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{blocked, fieldsOutcome("Dos", 8), blocked}}
	sleeps := &sleepRecorder{}
	p := newTestProcessor(c, ex, sleeps)

	result := p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png"), pngFile("c.png")}, pro)
	require.Equal(t, 2, result.Failed)

	retried := p.RetryFailed(context.Background(), result.DocumentIDs)

	assert.Equal(t, 2, retried)
	assert.Equal(t, []string{pro, pro, pro, flash, flash}, ex.calledModels())
	// Two batch pauses on pro, then one pause on the fallback model between the retries.
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 2 * time.Second}, sleeps.recorded())
	for _, d := range c.Snapshot() {
		assert.Equal(t, models.StatusCompleted, d.Status(), d.Filename)
	}
}

func TestRetryFailedStopsWhenCancelled(t *testing.T) {
	blocked := models.FailureOutcome(models.Failure{Kind: models.KindContentSafety, Message: "blocked"})
	c := NewReportCollection()
	ex := &scriptedExtractor{script: []models.AttemptOutcome{blocked, blocked}}
	p := newTestProcessor(c, ex, &sleepRecorder{})
	result := p.Process(context.Background(), []models.File{pngFile("a.png"), pngFile("b.png")}, flash)
	require.Equal(t, 2, result.Failed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, p.RetryFailed(ctx, result.DocumentIDs))
	assert.Len(t, ex.calls, 2)
	for _, d := range c.Snapshot() {
		assert.Equal(t, models.StatusError, d.Status())
	}
}

func TestRetryWithoutEncodedContent(t *testing.T) {
	c := NewReportCollection()
	ex := &scriptedExtractor{}
	p := newTestProcessor(c, ex, &sleepRecorder{})

	result := p.Process(context.Background(), []models.File{{Name: "empty.png", MIMEType: "image/png"}}, flash)
	id := result.DocumentIDs[0]

	require.NoError(t, p.Retry(context.Background(), id))

	d, _ := c.Get(id)
	failed, ok := d.State.(models.Failed)
	require.True(t, ok)
	assert.Equal(t, models.KindDecode, failed.Failure.Kind)
	assert.Empty(t, ex.calls)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
