// Package archive keeps the transcript behind each booking hand-off in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Transcript is the archived document.
type Transcript struct {
	Booking    booking.Record      `json:"booking"`
	Messages   []chatstore.Message `json:"messages"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// Store archives booking transcripts. A Store without a bucket is a no-op.
type Store struct {
	bucket  string
	client  S3API
	history chatstore.Store
	logger  *logging.Logger
	now     func() time.Time
}

func NewStore(client S3API, bucket string, history chatstore.Store, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, client: client, history: history, logger: logger, now: time.Now}
}

// Enabled reports whether archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil && s.history != nil
}

// ArchiveBooking writes rec and the user's recent history as one JSON object.
func (s *Store) ArchiveBooking(ctx context.Context, rec booking.Record) error {
	if !s.Enabled() {
		return nil
	}
	msgs, err := s.history.Recent(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("archive: load history: %w", err)
	}
	now := s.now().UTC()
	data, err := json.Marshal(Transcript{Booking: rec, Messages: msgs, ArchivedAt: now})
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}

	key := Key(rec, now)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived booking transcript",
		"booking_id", rec.ID,
		"s3_key", key,
		"message_count", len(msgs),
	)
	return nil
}

// Key is the object key for a booking archived at t.
func Key(rec booking.Record, t time.Time) string {
	return fmt.Sprintf("bookings/v1/by-date/%d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), rec.ID)
}
