package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryLedger_SeenOrMark(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLedger(300*time.Second, logging.Discard(), WithLedgerClock(clock.Now))
	ctx := context.Background()

	assert.False(t, l.SeenOrMark(ctx, "m1"), "first sighting is new")
	assert.True(t, l.SeenOrMark(ctx, "m1"), "second sighting is a duplicate")

	clock.Advance(299 * time.Second)
	assert.True(t, l.SeenOrMark(ctx, "m1"), "still inside ttl")

	clock.Advance(2 * time.Second)
	assert.False(t, l.SeenOrMark(ctx, "m1"), "expired id is new again")
	assert.True(t, l.SeenOrMark(ctx, "m1"))
}

func TestMemoryLedger_EmptyIDAlwaysNew(t *testing.T) {
	l := NewMemoryLedger(0, logging.Discard())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.False(t, l.SeenOrMark(ctx, ""))
		assert.False(t, l.SeenOrMark(ctx, "   "))
	}
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLedger_CapacityEvictsOldest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewMemoryLedger(time.Minute, logging.Discard(), WithLedgerClock(clock.Now), WithLedgerCapacity(2))
	ctx := context.Background()

	l.SeenOrMark(ctx, "a")
	clock.Advance(time.Second)
	l.SeenOrMark(ctx, "b")
	clock.Advance(time.Second)
	l.SeenOrMark(ctx, "c")

	assert.Equal(t, 2, l.Len())
	assert.False(t, l.SeenOrMark(ctx, "a"), "oldest id was evicted")
	assert.True(t, l.SeenOrMark(ctx, "c"))
}

func TestRedisLedger_SeenOrMark(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLedger(client, 300*time.Second, logging.Discard())
	ctx := context.Background()

	assert.False(t, l.SeenOrMark(ctx, "m1"))
	assert.True(t, l.SeenOrMark(ctx, "m1"))
	assert.False(t, l.SeenOrMark(ctx, ""))

	ttl := mr.TTL("inbound:mid:m1")
	assert.Equal(t, 300*time.Second, ttl)

	mr.FastForward(301 * time.Second)
	assert.False(t, l.SeenOrMark(ctx, "m1"), "expired key is new again")
}

func TestRedisLedger_UnavailableTreatsAsNew(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedisLedger(client, time.Minute, logging.Discard())

	mr.Close()
	assert.False(t, l.SeenOrMark(context.Background(), "m1"))
	assert.False(t, l.SeenOrMark(context.Background(), "m1"))
}

func TestPostgresLedger_SeenOrMark(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := newPostgresLedgerWithExec(mock, 300*time.Second, logging.Discard())

	mock.ExpectExec("INSERT INTO inbound_messages").
		WithArgs("m1", 300.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inbound_messages").
		WithArgs("m1", 300.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ctx := context.Background()
	assert.False(t, l.SeenOrMark(ctx, "m1"))
	assert.True(t, l.SeenOrMark(ctx, "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ErrorTreatsAsNew(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := newPostgresLedgerWithExec(mock, time.Minute, logging.Discard())
	mock.ExpectExec("INSERT INTO inbound_messages").
		WithArgs("m1", 60.0).
		WillReturnError(errors.New("connection reset"))

	assert.False(t, l.SeenOrMark(context.Background(), "m1"))
	assert.False(t, l.SeenOrMark(context.Background(), ""), "empty id never hits the database")
	assert.NoError(t, mock.ExpectationsWereMet())
}
