package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore provides durable idempotency enforcement backed by
// PostgreSQL, for deployments without a shared redis. INSERT .. ON CONFLICT
// DO NOTHING is the atomic add-if-absent.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) TryAccept(ctx context.Context, tid string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO received_orders (tid, accepted_at)
		 VALUES ($1, $2)
		 ON CONFLICT (tid) DO NOTHING`,
		tid, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("dedup insert %q: %w", tid, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup insert %q: %w", tid, err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) Release(ctx context.Context, tid string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM received_orders WHERE tid = $1`,
		tid,
	)
	if err != nil {
		return fmt.Errorf("dedup release %q: %w", tid, err)
	}
	return nil
}

// Cleanup removes records older than the retention window. Webhook retries
// arrive within days; anything older only bloats the table.
func (s *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM received_orders WHERE accepted_at < $1`,
		time.Now().UTC().Add(-retention),
	)
	if err != nil {
		return fmt.Errorf("dedup cleanup: %w", err)
	}
	return nil
}
