package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory stores customers in the customers table.
type PostgresDirectory struct {
	db pgxDB
}

// NewPostgresDirectory initializes a directory backed by pgxpool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("customers: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithDB(db pgxDB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (r *PostgresDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("customers: exists query failed: %w", err)
	}
	return exists, nil
}

func (r *PostgresDirectory) AutoReplyEnabled(ctx context.Context, userID string) (bool, error) {
	var on bool
	err := r.db.QueryRow(ctx, `SELECT chatbot_on FROM customers WHERE user_id = $1`, userID).Scan(&on)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("customers: chatbot query failed: %w", err)
	}
	return on, nil
}

func (r *PostgresDirectory) Register(ctx context.Context, userID, name string, chatbotOn bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	query := `
		INSERT INTO customers (user_id, name, chatbot_on, follow_up_on)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, userID, name, chatbotOn); err != nil {
		return fmt.Errorf("customers: insert failed: %w", err)
	}
	return nil
}

func (r *PostgresDirectory) Get(ctx context.Context, userID string) (*Customer, error) {
	query := `
		SELECT user_id, name, chatbot_on, follow_up_on, created_at
		FROM customers
		WHERE user_id = $1
	`
	var c Customer
	err := r.db.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.Name, &c.ChatbotOn, &c.FollowUpOn, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("customers: get failed: %w", err)
	}
	return &c, nil
}

func (r *PostgresDirectory) SetChatbot(ctx context.Context, userID string, on bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE customers SET chatbot_on = $2 WHERE user_id = $1`, userID, on)
	if err != nil {
		return fmt.Errorf("customers: update chatbot failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresDirectory) FollowUpEligible(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM customers WHERE follow_up_on ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("customers: follow-up query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("customers: scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresDirectory) SetFollowUp(ctx context.Context, userIDs []string, on bool) error {
	if len(userIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, `UPDATE customers SET follow_up_on = $2 WHERE user_id = ANY($1)`, userIDs, on); err != nil {
		return fmt.Errorf("customers: update follow-up failed: %w", err)
	}
	return nil
}
