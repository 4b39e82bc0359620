// Package chatstore persists the recent message history of each Messenger user.
package chatstore

import (
	"context"
	"errors"
	"time"
)

// DefaultLimit is the number of messages kept per user.
const DefaultLimit = 20

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoHistory is returned by Recent callers that require at least one message.
var ErrNoHistory = errors.New("chatstore: no history")

// Message is one history entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Activity describes when a user's conversation last moved.
type Activity struct {
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the chat history persistence contract.
//
// Append adds messages to the tail of the user's history and trims it to the
// store's limit. The conversation's updated_at is set on first insert and
// afterwards only when touch is true. Recent returns history oldest first.
type Store interface {
	Append(ctx context.Context, userID string, msgs []Message, touch bool) error
	Recent(ctx context.Context, userID string) ([]Message, error)
	ListInactive(ctx context.Context, before time.Time) ([]Activity, error)
}

// User builds a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant-role message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func stamp(msgs []Message, now time.Time) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		out[i] = m
	}
	return out
}
