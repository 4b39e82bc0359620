package inbound

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger records message ids in the inbound_messages table. An id
// whose seen_at is older than the TTL is re-marked and treated as new.
type PostgresLedger struct {
	db     execer
	ttl    time.Duration
	logger *logging.Logger
}

// NewPostgresLedger creates a ledger backed by a pgx pool.
func NewPostgresLedger(pool *pgxpool.Pool, ttl time.Duration, logger *logging.Logger) *PostgresLedger {
	if pool == nil {
		panic("inbound: pgx pool required")
	}
	return newPostgresLedgerWithExec(pool, ttl, logger)
}

func newPostgresLedgerWithExec(db execer, ttl time.Duration, logger *logging.Logger) *PostgresLedger {
	if db == nil {
		panic("inbound: exec required")
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresLedger{db: db, ttl: ttl, logger: logger}
}

// SeenOrMark implements Ledger.
func (l *PostgresLedger) SeenOrMark(ctx context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		l.logger.Debug("inbound: message without id treated as new")
		return false
	}
	query := `
		INSERT INTO inbound_messages (message_id, seen_at)
		VALUES ($1, now())
		ON CONFLICT (message_id) DO UPDATE SET seen_at = EXCLUDED.seen_at
		WHERE inbound_messages.seen_at < now() - make_interval(secs => $2)
	`
	ct, err := l.db.Exec(ctx, query, messageID, l.ttl.Seconds())
	if err != nil {
		l.logger.Warn("inbound: postgres ledger unavailable, treating message as new",
			"message_id", messageID,
			"error", err,
		)
		return false
	}
	return ct.RowsAffected() == 0
}
