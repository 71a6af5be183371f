package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Account holds the wallet-scoped fields of a user account. Fields managed
// by out-of-scope flows (signup, plan changes, purchases) are read-only here;
// the ledger mutates only MonthlyUsedCents and MonthlyResetAt.
type Account struct {
	ID               uuid.UUID     `json:"id"`
	CreatedAt        time.Time     `json:"created_at"`
	MonthlyUsedCents int64         `json:"monthly_used_cents"`
	MonthlyResetAt   time.Time     `json:"monthly_reset_at"`
	Subscription     *Subscription `json:"subscription,omitempty"`
}

// Subscription is attached 0-or-1 to an Account. StartedAt doubles as the
// billing anniversary used for monthly reset alignment.
type Subscription struct {
	Plan       string     `json:"plan"`
	PriceCents int64      `json:"price_cents"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the subscription is in force at t.
func (s *Subscription) Active(t time.Time) bool {
	if s == nil {
		return false
	}
	return s.EndedAt == nil || s.EndedAt.After(t)
}

// TopUp is a purchased, time-boxed credit balance. Expired top-ups are
// excluded from the available balance but kept as historical records.
type TopUp struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	PurchasedAt time.Time `json:"purchased_at"`
	AmountCents int64     `json:"amount_cents"`
	UsedCents   int64     `json:"used_cents"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AvailableCents returns the spendable remainder of the top-up at t.
func (t *TopUp) AvailableCents(at time.Time) int64 {
	if !t.ExpiresAt.After(at) {
		return 0
	}
	if rem := t.AmountCents - t.UsedCents; rem > 0 {
		return rem
	}
	return 0
}

// TopUpStatus is the caller-visible slice of a top-up.
type TopUpStatus struct {
	ID             uuid.UUID `json:"id"`
	AvailableCents int64     `json:"available_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// WalletStatus is a read-only snapshot of an account's wallet. The snapshot
// already reflects any pending monthly rollover even if the stored counters
// have not been physically reset yet.
type WalletStatus struct {
	Plan                  string        `json:"plan,omitempty"`
	HasSubscription       bool          `json:"has_subscription"`
	MonthlyCapCents       int64         `json:"monthly_cap_cents"`
	MonthlyUsedCents      int64         `json:"monthly_used_cents"`
	MonthlyRemainingCents int64         `json:"monthly_remaining_cents"`
	PercentUsed           int           `json:"percent_used"`
	TopUps                []TopUpStatus `json:"top_ups"`
	TotalAvailableCents   int64         `json:"total_available_cents"`
	PeriodStart           time.Time     `json:"period_start"`
	RefreshAt             time.Time     `json:"refresh_at"`
}
