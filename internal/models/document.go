package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle stage of a Document.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// State is one of Pending, Processing, Completed or Failed. Each variant carries only the data
// that is meaningful for its status.
type State interface {
	Status() Status
	isState()
}

type Pending struct{}

type Processing struct{}

type Completed struct {
	Fields          ExtractedFields
	ConfidenceScore int
}

type Failed struct {
	Failure Failure
	// Message is the classified, user-facing text shown for the document.
	Message string
}

func (Pending) Status() Status    { return StatusPending }
func (Processing) Status() Status { return StatusProcessing }
func (Completed) Status() Status  { return StatusCompleted }
func (Failed) Status() Status     { return StatusError }

func (Pending) isState()    {}
func (Processing) isState() {}
func (Completed) isState()  {}
func (Failed) isState()     {}

// Document represents one uploaded file and its extraction state.
// Documents are values: every transition produces a new Document.
type Document struct {
	ID       string
	BatchID  string
	Filename string
	MIMEType string
	// EncodedContent is the base64 file content, empty until the file has been encoded.
	EncodedContent string
	State          State
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status returns the status of the current state. A zero Document is pending.
func (d Document) Status() Status {
	if d.State == nil {
		return StatusPending
	}
	return d.State.Status()
}

// Result returns the extracted fields and score of a completed document.
func (d Document) Result() (Completed, bool) {
	c, ok := d.State.(Completed)
	return c, ok
}

// ErrorMessage returns the user-facing failure message of a failed document.
func (d Document) ErrorMessage() (string, bool) {
	f, ok := d.State.(Failed)
	if !ok {
		return "", false
	}
	return f.Message, true
}

// WithState returns a copy of d in state s.
func (d Document) WithState(s State, now time.Time) Document {
	d.State = s
	d.UpdatedAt = now
	return d
}

type documentJSON struct {
	ID              string           `json:"id"`
	BatchID         string           `json:"batchId,omitempty"`
	Filename        string           `json:"filename"`
	MIMEType        string           `json:"mimeType,omitempty"`
	Status          Status           `json:"status"`
	ConfidenceScore int              `json:"confidenceScore"`
	Data            *ExtractedFields `json:"data,omitempty"`
	ErrorMsg        string           `json:"errorMsg,omitempty"`
	ErrorKind       ErrorKind        `json:"errorKind,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// MarshalJSON flattens the state into status, data and errorMsg keys. The encoded content is
// left out.
func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		ID:        d.ID,
		BatchID:   d.BatchID,
		Filename:  d.Filename,
		MIMEType:  d.MIMEType,
		Status:    d.Status(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	switch s := d.State.(type) {
	case Completed:
		fields := s.Fields
		out.Data = &fields
		out.ConfidenceScore = s.ConfidenceScore
	case Failed:
		out.ErrorMsg = s.Message
		out.ErrorKind = s.Failure.Kind
	}
	return json.Marshal(out)
}
