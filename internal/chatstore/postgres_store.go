package chatstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists history in chat_conversations / chat_messages.
type PostgresStore struct {
	db     pgxDB
	tracer trace.Tracer
	limit  int
	now    func() time.Time
}

// NewPostgresStore builds a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, limit int, tracer trace.Tracer) *PostgresStore {
	if pool == nil {
		panic("chatstore: pgx pool cannot be nil")
	}
	return newPostgresStoreWithDB(pool, limit, tracer)
}

func newPostgresStoreWithDB(db pgxDB, limit int, tracer trace.Tracer) *PostgresStore {
	if tracer == nil {
		tracer = otel.Tracer("concierge.internal.chatstore.postgres")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PostgresStore{db: db, tracer: tracer, limit: limit, now: time.Now}
}

func (s *PostgresStore) Append(ctx context.Context, userID string, msgs []Message, touch bool) error {
	ctx, span := s.tracer.Start(ctx, "chatstore.append")
	defer span.End()

	if len(msgs) == 0 {
		return nil
	}
	now := s.now().UTC()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_conversations (user_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = CASE
			WHEN $3 THEN EXCLUDED.updated_at
			ELSE chat_conversations.updated_at
		END
	`, userID, now, touch); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: upsert conversation: %w", err)
	}

	for _, m := range stamp(msgs, now) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_messages (user_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)
		`, userID, m.Role, m.Content, m.CreatedAt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("chatstore: insert message: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM chat_messages
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM chat_messages WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		)
	`, userID, s.limit); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: trim history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chatstore: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, userID string) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "chatstore.recent")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM chat_messages
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC
	`, userID, s.limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chatstore: query history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chatstore: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chatstore: iterate history: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListInactive(ctx context.Context, before time.Time) ([]Activity, error) {
	ctx, span := s.tracer.Start(ctx, "chatstore.list_inactive")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT user_id, created_at, updated_at
		FROM chat_conversations
		WHERE updated_at < $1
		ORDER BY updated_at ASC
	`, before.UTC())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chatstore: query activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.UserID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chatstore: scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
