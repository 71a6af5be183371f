package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore stores usage events in Postgres. The dedup lookup is
// served by a partial index over (account_id, feature, dedup_key);
// conflicting ids make redelivered messages a no-op.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Insert(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_events (
			id, account_id, feature, endpoint, model,
			prompt_tokens, completion_tokens, total_tokens,
			cost_cents, success, error_message, dedup_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.AccountID, ev.Feature, ev.Endpoint, ev.Model,
		ev.PromptTokens, ev.CompletionTokens, ev.TotalTokens,
		ev.CostCents, ev.Success, ev.ErrorMessage, ev.DedupKey, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, accountID uuid.UUID, feature, dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM usage_events
			WHERE account_id = $1 AND feature = $2 AND dedup_key = $3
		)`, accountID, feature, dedupKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check usage event: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) MonthlyBreakdown(ctx context.Context, accountID uuid.UUID, since time.Time) ([]FeatureUsage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feature, COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_cents), 0)
		FROM usage_events
		WHERE account_id = $1 AND created_at >= $2
		GROUP BY feature
		ORDER BY SUM(cost_cents) DESC, feature`,
		accountID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage breakdown: %w", err)
	}
	defer rows.Close()

	var out []FeatureUsage
	for rows.Next() {
		var fu FeatureUsage
		if err := rows.Scan(&fu.Feature, &fu.Events, &fu.PromptTokens, &fu.CompletionTokens, &fu.CostCents); err != nil {
			return nil, fmt.Errorf("scan usage breakdown: %w", err)
		}
		out = append(out, fu)
	}
	return out, rows.Err()
}
