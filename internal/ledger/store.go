package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAccountNotFound is returned when an account id has no wallet row.
var ErrAccountNotFound = errors.New("ledger: account not found")

// ErrIntegrity flags a structurally-impossible ledger state (used exceeding
// purchased, a charge that did not fully apply). Observing it means a logic
// defect, not a business outcome; callers should alert, never clamp.
var ErrIntegrity = errors.New("ledger: integrity violation")

// Store is the persistence boundary of the wallet ledger. Charge must be
// linearizable per account: of two concurrent charges that a balance can
// only satisfy once, exactly one may succeed.
type Store interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	CreateAccount(ctx context.Context, acct *Account) error

	// ListActiveTopUps returns non-expired top-ups with remaining balance,
	// ordered by soonest expiry first.
	ListActiveTopUps(ctx context.Context, accountID uuid.UUID, asOf time.Time) ([]TopUp, error)
	AddTopUp(ctx context.Context, topUp *TopUp) error

	// Charge atomically debits amountCents from the account: it applies any
	// pending monthly reset (MonthlyResetAt before anchor), spends from the
	// monthly allowance bounded by capCents, then spills into top-ups by
	// soonest expiry. Returns false without any mutation when the combined
	// balance cannot cover the full amount.
	Charge(ctx context.Context, accountID uuid.UUID, amountCents, capCents int64, anchor, asOf time.Time) (bool, error)
}
