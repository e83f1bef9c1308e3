package services

import (
	"time"

	"github.com/Lllllllleong/mr14capture/internal/models"
)

// Attempt is one entry of a document's attempt history.
type Attempt struct {
	Model   string
	Outcome models.AttemptOutcome
}

// ActionKind tags an Action.
type ActionKind int

const (
	// ActionRetry asks for another recognizer call.
	ActionRetry ActionKind = iota
	// ActionSucceed ends the loop with a successful outcome.
	ActionSucceed
	// ActionFail ends the loop with the last failure.
	ActionFail
)

// Action is the next step decided by the RetryPolicy.
type Action struct {
	Kind  ActionKind
	Model string
	Delay time.Duration
	// Outcome is the deciding attempt's outcome for ActionSucceed and ActionFail.
	Outcome models.AttemptOutcome
}

// RetryPolicy decides, from the attempt history of one document, which model to call next and
// how long to wait first. It holds no state between documents.
type RetryPolicy struct {
	// FallbackModel is tried after the requested model.
	FallbackModel string
	// TransientDelays is indexed by the count of transient failures so far; the last entry repeats.
	TransientDelays []time.Duration
	// NetworkDelay is the wait after a connectivity failure.
	NetworkDelay time.Duration
	// FatalDelay is the wait after a non-terminal fatal failure.
	FatalDelay time.Duration
}

// DefaultRetryPolicy falls back to gemini-2.5-flash with 5s/10s transient backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		FallbackModel:   "gemini-2.5-flash",
		TransientDelays: []time.Duration{5 * time.Second, 10 * time.Second},
		NetworkDelay:    3 * time.Second,
		FatalDelay:      2 * time.Second,
	}
}

// Models returns the ordered list of models to try for requested: the requested model, then the
// fallback twice. When requested is the fallback it is simply tried once more.
func (p RetryPolicy) Models(requested string) []string {
	if requested == "" || requested == p.FallbackModel {
		return []string{p.FallbackModel, p.FallbackModel}
	}
	return []string{requested, p.FallbackModel, p.FallbackModel}
}

// Next returns the action that follows history.
func (p RetryPolicy) Next(requested string, history []Attempt) Action {
	chain := p.Models(requested)
	if len(history) == 0 {
		return Action{Kind: ActionRetry, Model: chain[0]}
	}

	last := history[len(history)-1].Outcome
	if last.Succeeded() {
		return Action{Kind: ActionSucceed, Outcome: last}
	}
	if last.Failure.Kind.Terminal() || len(history) >= len(chain) {
		return Action{Kind: ActionFail, Outcome: last}
	}

	return Action{
		Kind:  ActionRetry,
		Model: chain[len(history)],
		Delay: p.delayAfter(history),
	}
}

func (p RetryPolicy) delayAfter(history []Attempt) time.Duration {
	last := history[len(history)-1].Outcome
	switch {
	case last.Failure.Kind == models.KindNetwork:
		return p.NetworkDelay
	case last.Kind == models.OutcomeTransient:
		transients := 0
		for _, a := range history {
			if a.Outcome.Kind == models.OutcomeTransient {
				transients++
			}
		}
		if len(p.TransientDelays) == 0 {
			return 0
		}
		i := min(transients, len(p.TransientDelays)) - 1
		return p.TransientDelays[i]
	}
	return p.FatalDelay
}
