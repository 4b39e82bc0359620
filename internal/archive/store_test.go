package archive

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/internal/booking"
	"github.com/wolfman30/messenger-concierge/internal/chatstore"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type mockS3Client struct {
	bucket, key string
	body        []byte
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.bucket = *input.Bucket
	m.key = *input.Key
	m.body, _ = io.ReadAll(input.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestStore_ArchiveBooking(t *testing.T) {
	ctx := context.Background()
	history := chatstore.NewMemoryStore(0)
	require.NoError(t, history.Append(ctx, "u1", []chatstore.Message{chatstore.User("I want to book")}, true))

	mock := &mockS3Client{}
	store := NewStore(mock, "archive-bucket", history, logging.Discard())
	fixed := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	rec := booking.Record{ID: "b-1", UserID: "u1", Name: "Lan"}
	require.NoError(t, store.ArchiveBooking(ctx, rec))

	assert.Equal(t, "archive-bucket", mock.bucket)
	assert.Equal(t, "bookings/v1/by-date/2024/03/07/b-1.json", mock.key)

	var got Transcript
	require.NoError(t, json.Unmarshal(mock.body, &got))
	assert.Equal(t, "b-1", got.Booking.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "I want to book", got.Messages[0].Content)
	assert.Equal(t, fixed, got.ArchivedAt)
}

func TestStore_DisabledIsNoop(t *testing.T) {
	mock := &mockS3Client{}
	store := NewStore(mock, "", chatstore.NewMemoryStore(0), nil)
	assert.False(t, store.Enabled())
	require.NoError(t, store.ArchiveBooking(context.Background(), booking.Record{ID: "b-1"}))
	assert.Empty(t, mock.key)

	var nilStore *Store
	assert.False(t, nilStore.Enabled())
}
