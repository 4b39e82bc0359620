// Package inbound absorbs webhook deliveries from the messaging platform and
// turns bursts of fragments from one sender into a single consolidated turn.
package inbound

import "time"

// Event is one decoded inbound message. MessageID may be empty.
type Event struct {
	MessageID   string
	SenderID    string
	RecipientID string
	Text        string
	Timestamp   time.Time
}

// Outcome is the explicit result of every inbound or turn stage.
type Outcome int

const (
	// OutcomeProcessed means the stage ran to completion.
	OutcomeProcessed Outcome = iota
	// OutcomeSuppressed means the input was intentionally dropped
	// (duplicate, self-echo, empty turn, auto-reply disabled).
	OutcomeSuppressed
	// OutcomeDeferred means the input was buffered and will be acted on later.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}
