package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngFile(name string) models.File {
	content := append(bytes.Clone(pngHeader), name...)
	return models.File{Name: name, MIMEType: "image/png", Content: content}
}

// minimalPDF builds a well-formed PDF with the given number of blank pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>", strings.Join(kids, " "), pages))
	for range pages {
		obj("<< /Type /Page /Parent 2 0 R /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func quotaFailure() models.AttemptOutcome {
	return models.FailureOutcome(models.Failure{Kind: models.KindQuota, StatusCode: 429, Message: "Resource exhausted"})
}

func fieldsOutcome(inmueble string, score int) models.AttemptOutcome {
	return models.Success(models.ExtractedFields{Inmueble: inmueble}, score)
}

type extractCall struct {
	data     string
	mimeType string
	model    string
}

// scriptedExtractor returns the scripted outcomes in order, then succeeds.
type scriptedExtractor struct {
	mu       sync.Mutex
	script   []models.AttemptOutcome
	calls    []extractCall
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *scriptedExtractor) Extract(ctx context.Context, data, mimeType, model string) models.AttemptOutcome {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, extractCall{data: data, mimeType: mimeType, model: model})
	if len(s.script) > 0 {
		o := s.script[0]
		s.script = s.script[1:]
		return o
	}
	return fieldsOutcome("default", 7)
}

func (s *scriptedExtractor) calledModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.model
	}
	return out
}

// sleepRecorder records requested waits and returns at once.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newTestProcessor(c *ReportCollection, e Extractor, s *sleepRecorder, opts ...ProcessorOption) *DocumentQueueProcessor {
	base := []ProcessorOption{
		WithSleeper(s.Sleep),
		WithIDGenerator(sequentialIDs()),
		WithClock(fixedClock),
	}
	return NewDocumentQueueProcessor(c, e, append(base, opts...)...)
}

// fakeRecognizer answers Recognize with respond.
type fakeRecognizer struct {
	mu         sync.Mutex
	modelNames []string
	docs       []models.EncodedDocument
	respond    func(ctx context.Context) (string, error)
}

func (f *fakeRecognizer) Recognize(ctx context.Context, model string, doc models.EncodedDocument) (string, error) {
	f.mu.Lock()
	f.modelNames = append(f.modelNames, model)
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	return f.respond(ctx)
}

type fakePinger struct {
	err   error
	model string
}

func (p *fakePinger) Ping(ctx context.Context, model string) error {
	p.model = model
	return p.err
}
