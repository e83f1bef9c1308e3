package services

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventTypePrefix prefixes the CloudEvent type of every collection event.
const EventTypePrefix = "com.comexa.mr14.document."

// CloudEventSink writes collection events as CloudEvents, one JSON object per line.
type CloudEventSink struct {
	mu     sync.Mutex
	w      io.Writer
	source string
}

// NewCloudEventSink writes to w with the given CloudEvent source.
func NewCloudEventSink(w io.Writer, source string) *CloudEventSink {
	return &CloudEventSink{w: w, source: source}
}

// Observe is an Observer. Write failures are logged and otherwise ignored.
func (s *CloudEventSink) Observe(ev Event) {
	ce, err := s.ToCloudEvent(ev)
	if err != nil {
		slog.Error("Failed to build CloudEvent.", "eventType", ev.Type, "error", err)
		return
	}
	b, err := json.Marshal(ce)
	if err != nil {
		slog.Error("Failed to marshal CloudEvent.", "eventType", ev.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		slog.Error("Failed to write CloudEvent.", "eventType", ev.Type, "error", err)
	}
}

// ToCloudEvent converts ev. Document events carry the document, progress events the counters.
func (s *CloudEventSink) ToCloudEvent(ev Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(s.source)
	ce.SetType(EventTypePrefix + string(ev.Type))
	ce.SetTime(ev.Time)

	var data any
	if ev.Type == EventProgress {
		ce.SetSubject(ev.Progress.BatchID)
		data = ev.Progress
	} else {
		ce.SetSubject(ev.Document.ID)
		if ev.Document.BatchID != "" {
			ce.SetExtension("batchid", ev.Document.BatchID)
		}
		if ev.From != "" {
			ce.SetExtension("fromstatus", string(ev.From))
		}
		data = ev.Document
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return ce, fmt.Errorf("failed to set event data: %w", err)
	}
	return ce, nil
}
