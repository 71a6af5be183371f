package freecredit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store with conditional single-statement updates;
// the database is the arbiter of every grant and consume race.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, accountID uuid.UUID, feature string) (*Counter, error) {
	c := &Counter{}
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, feature, remaining, granted_at, updated_at
		 FROM free_credits WHERE account_id = $1 AND feature = $2`,
		accountID, feature,
	).Scan(&c.AccountID, &c.Feature, &c.Remaining, &c.GrantedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying free credit: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) List(ctx context.Context, accountID uuid.UUID) ([]Counter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, feature, remaining, granted_at, updated_at
		 FROM free_credits WHERE account_id = $1 ORDER BY feature`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying free credits: %w", err)
	}
	defer rows.Close()

	var counters []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.AccountID, &c.Feature, &c.Remaining, &c.GrantedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning free credit: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

func (s *PostgresStore) Grant(ctx context.Context, accountID uuid.UUID, feature string, count int) (bool, error) {
	// ON CONFLICT DO NOTHING is the atomic claim: the first caller inserts,
	// every later caller sees zero rows affected.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO free_credits (account_id, feature, remaining)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, feature) DO NOTHING`,
		accountID, feature, count)
	if err != nil {
		return false, fmt.Errorf("granting free credit: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Consume(ctx context.Context, accountID uuid.UUID, feature string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE free_credits
		 SET remaining = remaining - 1, updated_at = NOW()
		 WHERE account_id = $1 AND feature = $2 AND remaining > 0`,
		accountID, feature)
	if err != nil {
		return false, fmt.Errorf("consuming free credit: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
