package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresRecorder stores bookings in the bookings table.
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	if db == nil {
		panic("booking: sql db cannot be nil")
	}
	return &PostgresRecorder{db: db}
}

// Record inserts rec. Re-recording the same id is not an error.
func (r *PostgresRecorder) Record(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, name, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.Name, rec.Message, rec.Timestamp)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil
		}
		return fmt.Errorf("booking: insert record: %w", err)
	}
	return nil
}

// List returns the most recent bookings, newest first.
func (r *PostgresRecorder) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, message, created_at
		FROM bookings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("booking: list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("booking: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
