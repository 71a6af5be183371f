package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on pgx. Per-account atomicity comes from a
// row lock on the account: every charge serializes on SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT a.id, a.created_at, a.monthly_used_cents, a.monthly_reset_at,
		       s.plan, s.price_cents, s.started_at, s.ended_at
		FROM accounts a
		LEFT JOIN subscriptions s ON s.account_id = a.id
		WHERE a.id = $1`

	acct := &Account{}
	var (
		plan      *string
		price     *int64
		startedAt *time.Time
		endedAt   *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&acct.ID, &acct.CreatedAt, &acct.MonthlyUsedCents, &acct.MonthlyResetAt,
		&plan, &price, &startedAt, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}

	if plan != nil {
		acct.Subscription = &Subscription{
			Plan:       *plan,
			PriceCents: *price,
			StartedAt:  *startedAt,
			EndedAt:    endedAt,
		}
	}
	return acct, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, created_at, monthly_used_cents, monthly_reset_at)
		 VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.CreatedAt, acct.MonthlyUsedCents, acct.MonthlyResetAt)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	if sub := acct.Subscription; sub != nil {
		_, err = tx.Exec(ctx,
			`INSERT INTO subscriptions (account_id, plan, price_cents, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			acct.ID, sub.Plan, sub.PriceCents, sub.StartedAt, sub.EndedAt)
		if err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListActiveTopUps(ctx context.Context, accountID uuid.UUID, asOf time.Time) ([]TopUp, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, purchased_at, amount_cents, used_cents, expires_at
		 FROM top_ups
		 WHERE account_id = $1 AND expires_at > $2 AND used_cents < amount_cents
		 ORDER BY expires_at`, accountID, asOf)
	if err != nil {
		return nil, fmt.Errorf("querying top-ups: %w", err)
	}
	defer rows.Close()

	var topUps []TopUp
	for rows.Next() {
		var tu TopUp
		if err := rows.Scan(&tu.ID, &tu.AccountID, &tu.PurchasedAt, &tu.AmountCents, &tu.UsedCents, &tu.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning top-up: %w", err)
		}
		topUps = append(topUps, tu)
	}
	return topUps, rows.Err()
}

func (s *PostgresStore) AddTopUp(ctx context.Context, topUp *TopUp) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO top_ups (id, account_id, purchased_at, amount_cents, used_cents, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		topUp.ID, topUp.AccountID, topUp.PurchasedAt, topUp.AmountCents, topUp.UsedCents, topUp.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting top-up: %w", err)
	}
	return nil
}

func (s *PostgresStore) Charge(ctx context.Context, accountID uuid.UUID, amountCents, capCents int64, anchor, asOf time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The account row lock serializes concurrent charges for this account.
	var (
		used    int64
		resetAt time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT monthly_used_cents, monthly_reset_at FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID).Scan(&used, &resetAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("locking account: %w", err)
	}

	// Lazy monthly rollover on first charge after the anchor date.
	if resetAt.Before(anchor) {
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET monthly_used_cents = 0, monthly_reset_at = $2 WHERE id = $1`,
			accountID, anchor); err != nil {
			return false, fmt.Errorf("applying monthly reset: %w", err)
		}
		used = 0
	}

	monthlyRemaining := capCents - used
	if monthlyRemaining < 0 {
		monthlyRemaining = 0
	}

	rows, err := tx.Query(ctx,
		`SELECT id, amount_cents, used_cents
		 FROM top_ups
		 WHERE account_id = $1 AND expires_at > $2 AND used_cents < amount_cents
		 ORDER BY expires_at
		 FOR UPDATE`, accountID, asOf)
	if err != nil {
		return false, fmt.Errorf("locking top-ups: %w", err)
	}
	type lockedTopUp struct {
		id        uuid.UUID
		remaining int64
	}
	var topUps []lockedTopUp
	var topUpAvail int64
	for rows.Next() {
		var (
			id           uuid.UUID
			amount, spent int64
		)
		if err := rows.Scan(&id, &amount, &spent); err != nil {
			rows.Close()
			return false, fmt.Errorf("scanning top-up: %w", err)
		}
		topUps = append(topUps, lockedTopUp{id: id, remaining: amount - spent})
		topUpAvail += amount - spent
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterating top-ups: %w", err)
	}

	// All-or-nothing: reject before mutating anything.
	if monthlyRemaining+topUpAvail < amountCents {
		return false, nil
	}

	left := amountCents

	// Monthly allowance first.
	if fromMonthly := min(left, monthlyRemaining); fromMonthly > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET monthly_used_cents = monthly_used_cents + $2
			 WHERE id = $1 AND monthly_used_cents + $2 <= $3`,
			accountID, fromMonthly, capCents)
		if err != nil {
			return false, fmt.Errorf("charging monthly allowance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, fmt.Errorf("%w: monthly charge of %d would exceed cap for account %s", ErrIntegrity, fromMonthly, accountID)
		}
		left -= fromMonthly
	}

	// Spill into top-ups, soonest expiry first, so balances about to
	// expire are spent before longer-lived ones.
	for _, tu := range topUps {
		if left == 0 {
			break
		}
		take := min(left, tu.remaining)
		tag, err := tx.Exec(ctx,
			`UPDATE top_ups SET used_cents = used_cents + $2
			 WHERE id = $1 AND used_cents + $2 <= amount_cents`,
			tu.id, take)
		if err != nil {
			return false, fmt.Errorf("charging top-up %s: %w", tu.id, err)
		}
		if tag.RowsAffected() == 0 {
			return false, fmt.Errorf("%w: top-up %s would exceed purchased amount", ErrIntegrity, tu.id)
		}
		left -= take
	}

	if left != 0 {
		return false, fmt.Errorf("%w: charge of %d left %d unapplied for account %s", ErrIntegrity, amountCents, left, accountID)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing charge: %w", err)
	}
	return true, nil
}
