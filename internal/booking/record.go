// Package booking hands a user over to staff when the assistant detects a
// booking request.
package booking

import (
	"context"
	"errors"
	"time"
)

// Record is one booking request captured from a conversation.
type Record struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Name      string    `json:"name" dynamodbav:"name"`
	Message   string    `json:"message" dynamodbav:"message"`
}

// Recorder persists booking records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// MultiRecorder fans a record out to every recorder and joins their errors.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
