package models

// ErrorKind is the classified cause of a failed attempt or document.
type ErrorKind string

const (
	KindDecode         ErrorKind = "decode"
	KindTimeout        ErrorKind = "timeout"
	KindQuota          ErrorKind = "quota"
	KindOverloaded     ErrorKind = "overloaded"
	KindNetwork        ErrorKind = "network"
	KindAPIDisabled    ErrorKind = "api_disabled"
	KindCredential     ErrorKind = "credential"
	KindMalformed      ErrorKind = "malformed_output"
	KindContentSafety  ErrorKind = "content_safety"
	KindContentOverlap ErrorKind = "content_overlap"
	KindCancelled      ErrorKind = "cancelled"
	KindUnknown        ErrorKind = "unknown"
)

// Transient reports whether the failure is expected to clear up after waiting.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindQuota, KindOverloaded, KindNetwork:
		return true
	}
	return false
}

// Terminal reports whether no further attempt may be made for the document.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindDecode, KindCredential, KindAPIDisabled, KindContentSafety, KindCancelled:
		return true
	}
	return false
}

// Failure describes why an attempt did not produce fields.
type Failure struct {
	Kind ErrorKind
	// StatusCode is the HTTP-equivalent status of the remote error, 0 when unknown.
	StatusCode int
	Message    string
	Err        error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Message
}

func (f Failure) Unwrap() error { return f.Err }

// OutcomeKind tags an AttemptOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// AttemptOutcome is the result of one recognizer call. Fields and ConfidenceScore are set only
// for OutcomeSuccess; Failure only for the other kinds.
type AttemptOutcome struct {
	Kind            OutcomeKind
	Fields          ExtractedFields
	ConfidenceScore int
	Failure         Failure
}

func Success(fields ExtractedFields, score int) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeSuccess, Fields: fields, ConfidenceScore: score}
}

// FailureOutcome tags f as transient or fatal from its kind.
func FailureOutcome(f Failure) AttemptOutcome {
	if f.Kind.Transient() {
		return AttemptOutcome{Kind: OutcomeTransient, Failure: f}
	}
	return AttemptOutcome{Kind: OutcomeFatal, Failure: f}
}

func (o AttemptOutcome) Succeeded() bool { return o.Kind == OutcomeSuccess }
