package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads knowledge from the knowledge_* tables.
type PostgresStore struct {
	db rowQuerier
}

// NewPostgresStore creates a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("knowledge: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithQuerier(db rowQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Prompt(ctx context.Context, kind string) (string, error) {
	var content string
	err := s.db.QueryRow(ctx, `SELECT content FROM knowledge_prompts WHERE prompt_type = $1`, kind).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: prompt %q", ErrMissing, kind)
	}
	if err != nil {
		return "", fmt.Errorf("knowledge: prompt query failed: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) ConstantMessage(ctx context.Context, kind string) (string, error) {
	var content string
	err := s.db.QueryRow(ctx, `SELECT content FROM knowledge_messages WHERE message_type = $1`, kind).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: message %q", ErrMissing, kind)
	}
	if err != nil {
		return "", fmt.Errorf("knowledge: message query failed: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) FAQ(ctx context.Context) ([]FAQEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT question, answer FROM knowledge_faq ORDER BY position, question`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: faq query failed: %w", err)
	}
	defer rows.Close()

	var out []FAQEntry
	for rows.Next() {
		var e FAQEntry
		var answer []byte
		if err := rows.Scan(&e.Question, &answer); err != nil {
			return nil, fmt.Errorf("knowledge: scan faq: %w", err)
		}
		e.Answer = answer
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Functions(ctx context.Context) ([]FunctionDef, error) {
	rows, err := s.db.Query(ctx, `SELECT name, description, parameters FROM knowledge_functions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: functions query failed: %w", err)
	}
	defer rows.Close()

	var out []FunctionDef
	for rows.Next() {
		var f FunctionDef
		var params []byte
		if err := rows.Scan(&f.Name, &f.Description, &params); err != nil {
			return nil, fmt.Errorf("knowledge: scan function: %w", err)
		}
		f.Parameters = params
		out = append(out, f)
	}
	return out, rows.Err()
}

// Load reads every table into a Snapshot.
func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Prompts: map[string]string{}, Messages: map[string]string{}}

	prompts, err := s.pairs(ctx, `SELECT prompt_type, content FROM knowledge_prompts`)
	if err != nil {
		return nil, err
	}
	snap.Prompts = prompts
	messages, err := s.pairs(ctx, `SELECT message_type, content FROM knowledge_messages`)
	if err != nil {
		return nil, err
	}
	snap.Messages = messages
	if snap.FAQEntries, err = s.FAQ(ctx); err != nil {
		return nil, err
	}
	if snap.FunctionDefs, err = s.Functions(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) pairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load failed: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("knowledge: scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
