package services

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

var (
	// ErrNotFound is returned for an unknown document ID.
	ErrNotFound = errors.New("document not found")
	// ErrNotEditable is returned when editing a document that has no extracted fields.
	ErrNotEditable = errors.New("document has no extracted fields")
)

// EventType names a change in the collection.
type EventType string

const (
	EventAdded         EventType = "added"
	EventStatusChanged EventType = "status_changed"
	EventUpdated       EventType = "updated"
	EventDeleted       EventType = "deleted"
	EventProgress      EventType = "progress"
)

// Progress counts settled documents of one batch.
type Progress struct {
	BatchID string `json:"batchId"`
	Settled int    `json:"settled"`
	Total   int    `json:"total"`
}

// Event is delivered to observers after every change.
type Event struct {
	Type     EventType
	Document models.Document
	// From is the previous status for EventStatusChanged.
	From     models.Status
	Progress Progress
	Time     time.Time
}

// Observer receives collection events. It must not block for long.
type Observer func(Event)

// ReportCollection is the in-memory set of documents. Every change replaces the affected document
// and publishes a new snapshot; slices handed out are never modified afterwards.
type ReportCollection struct {
	mu        sync.Mutex
	docs      []models.Document
	observers []Observer
	now       func() time.Time
}

// NewReportCollection returns an empty collection.
func NewReportCollection() *ReportCollection {
	return &ReportCollection{now: time.Now}
}

// Subscribe registers o for all future events.
func (c *ReportCollection) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(slices.Clone(c.observers), o)
}

// Append adds docs after the existing ones. It never replaces the collection.
func (c *ReportCollection) Append(docs ...models.Document) {
	c.mu.Lock()
	next := make([]models.Document, 0, len(c.docs)+len(docs))
	next = append(next, c.docs...)
	next = append(next, docs...)
	c.docs = next
	observers := c.observers
	now := c.now()
	c.mu.Unlock()

	for _, d := range docs {
		notify(observers, Event{Type: EventAdded, Document: d, Time: now})
	}
}

// Snapshot returns the current documents in insertion order.
func (c *ReportCollection) Snapshot() []models.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.docs)
}

// Len returns the number of documents.
func (c *ReportCollection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// Get returns the document with the given ID.
func (c *ReportCollection) Get(id string) (models.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(id); i >= 0 {
		return c.docs[i], true
	}
	return models.Document{}, false
}

func (c *ReportCollection) indexOf(id string) int {
	return slices.IndexFunc(c.docs, func(d models.Document) bool { return d.ID == id })
}

// Transition replaces the document id with fn's result. Reading the old value and writing the
// new one happen under one lock, so concurrent transitions on the same ID never interleave.
func (c *ReportCollection) Transition(id string, fn func(models.Document) (models.Document, error)) (models.Document, error) {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return models.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := c.docs[i]
	updated, err := fn(prev)
	if err != nil {
		c.mu.Unlock()
		return prev, err
	}
	updated.ID = prev.ID
	next := slices.Clone(c.docs)
	next[i] = updated
	c.docs = next
	observers := c.observers
	now := c.now()
	c.mu.Unlock()

	ev := Event{Type: EventUpdated, Document: updated, Time: now}
	if prev.Status() != updated.Status() {
		ev.Type = EventStatusChanged
		ev.From = prev.Status()
	}
	notify(observers, ev)
	return updated, nil
}

// SetState moves the document id into state s.
func (c *ReportCollection) SetState(id string, s models.State) (models.Document, error) {
	return c.Transition(id, func(d models.Document) (models.Document, error) {
		return d.WithState(s, c.now()), nil
	})
}

// UpdateField edits one extracted field of a completed document.
func (c *ReportCollection) UpdateField(id, field, value string) (models.Document, error) {
	if !models.IsValidField(field) {
		return models.Document{}, fmt.Errorf("%w: %q", models.ErrUnknownField, field)
	}
	return c.Transition(id, func(d models.Document) (models.Document, error) {
		res, ok := d.Result()
		if !ok {
			return d, fmt.Errorf("%w: %s is %s", ErrNotEditable, id, d.Status())
		}
		fields, err := res.Fields.With(field, value)
		if err != nil {
			return d, err
		}
		res.Fields = fields
		return d.WithState(res, c.now()), nil
	})
}

// Delete removes the document id.
func (c *ReportCollection) Delete(id string) error {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := c.docs[i]
	c.docs = slices.Delete(slices.Clone(c.docs), i, i+1)
	observers := c.observers
	now := c.now()
	c.mu.Unlock()

	notify(observers, Event{Type: EventDeleted, Document: removed, Time: now})
	return nil
}

// Completed returns the completed documents in insertion order.
func (c *ReportCollection) Completed() []models.Document {
	var out []models.Document
	for _, d := range c.Snapshot() {
		if d.Status() == models.StatusCompleted {
			out = append(out, d)
		}
	}
	return out
}

// Stats counts documents per status and averages the completed scores to one decimal.
func (c *ReportCollection) Stats() models.Stats {
	var s models.Stats
	sum := 0
	for _, d := range c.Snapshot() {
		s.Total++
		switch d.State.(type) {
		case models.Completed:
			s.Completed++
			res, _ := d.Result()
			sum += res.ConfidenceScore
		case models.Failed:
			s.Failed++
		case models.Processing:
			s.Processing++
		default:
			s.Pending++
		}
	}
	if s.Completed > 0 {
		s.AverageConfidence = math.Round(float64(sum)/float64(s.Completed)*10) / 10
	}
	return s
}

// PublishProgress notifies observers of a batch's settled count.
func (c *ReportCollection) PublishProgress(p Progress) {
	c.mu.Lock()
	observers := c.observers
	now := c.now()
	c.mu.Unlock()
	notify(observers, Event{Type: EventProgress, Progress: p, Time: now})
}

func notify(observers []Observer, ev Event) {
	for _, o := range observers {
		o(ev)
	}
}
