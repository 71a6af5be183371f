package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitalog-health/vitalog/internal/config"
)

// Service is the wallet ledger: a monthly subscription-funded allowance that
// resets on the account's billing anniversary, plus zero or more time-boxed
// top-up pools, with atomic charge-or-reject semantics.
type Service struct {
	store   Store
	billing config.BillingConfig
	now     func() time.Time
}

func NewService(store Store, billing config.BillingConfig) *Service {
	return &Service{store: store, billing: billing, now: time.Now}
}

// WithClock overrides the service clock. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Account loads an account by id.
func (s *Service) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// WalletStatus returns a read-only snapshot of the account's wallet. Reads
// self-heal over a pending monthly rollover: once the anchor date has
// passed, the visible used amount is zero even before the stored counter is
// physically reset by the next charge.
func (s *Service) WalletStatus(ctx context.Context, accountID uuid.UUID) (*WalletStatus, error) {
	now := s.now().UTC()

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	topUps, err := s.store.ListActiveTopUps(ctx, accountID, now)
	if err != nil {
		return nil, err
	}

	day := anchorDayFor(acct, topUps)
	anchor := periodAnchor(now, day)

	var capCents int64
	var plan string
	subscribed := acct.Subscription.Active(now)
	if subscribed {
		capCents = s.billing.MonthlyCapCents(acct.Subscription.PriceCents)
		plan = acct.Subscription.Plan
	}

	used := acct.MonthlyUsedCents
	if acct.MonthlyResetAt.Before(anchor) {
		used = 0
	}
	monthlyRemaining := capCents - used
	if monthlyRemaining < 0 {
		monthlyRemaining = 0
	}

	status := &WalletStatus{
		Plan:                  plan,
		HasSubscription:       subscribed,
		MonthlyCapCents:       capCents,
		MonthlyUsedCents:      used,
		MonthlyRemainingCents: monthlyRemaining,
		TotalAvailableCents:   monthlyRemaining,
		PeriodStart:           anchor,
		RefreshAt:             nextAnchor(now, day),
	}
	if capCents > 0 {
		status.PercentUsed = int(min(100, used*100/capCents))
	}
	for _, tu := range topUps {
		avail := tu.AvailableCents(now)
		status.TopUps = append(status.TopUps, TopUpStatus{
			ID:             tu.ID,
			AvailableCents: avail,
			ExpiresAt:      tu.ExpiresAt,
		})
		status.TotalAvailableCents += avail
	}
	return status, nil
}

// ChargeCents debits amountCents if the wallet can cover it in full:
// pending monthly reset applied lazily, monthly allowance spent first, the
// remainder spilled into top-ups by soonest expiry. Returns false on
// insufficient funds; that is a routine business outcome, not an error.
// Charging zero always succeeds without touching the ledger.
func (s *Service) ChargeCents(ctx context.Context, accountID uuid.UUID, amountCents int64) (bool, error) {
	if amountCents < 0 {
		return false, fmt.Errorf("%w: negative charge of %d", ErrIntegrity, amountCents)
	}
	if amountCents == 0 {
		return true, nil
	}

	now := s.now().UTC()
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	topUps, err := s.store.ListActiveTopUps(ctx, accountID, now)
	if err != nil {
		return false, err
	}

	day := anchorDayFor(acct, topUps)
	anchor := periodAnchor(now, day)

	var capCents int64
	if acct.Subscription.Active(now) {
		capCents = s.billing.MonthlyCapCents(acct.Subscription.PriceCents)
	}

	return s.store.Charge(ctx, accountID, amountCents, capCents, anchor, now)
}

// AddTopUp records a purchased credit pool expiring after the configured
// validity window. The purchase flow itself (payment capture) is external.
func (s *Service) AddTopUp(ctx context.Context, accountID uuid.UUID, amountCents int64) (*TopUp, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive, got %d", amountCents)
	}
	now := s.now().UTC()
	tu := &TopUp{
		ID:          uuid.New(),
		AccountID:   accountID,
		PurchasedAt: now,
		AmountCents: amountCents,
		ExpiresAt:   now.AddDate(0, 0, s.billing.TopUpValidityDays),
	}
	if err := s.store.AddTopUp(ctx, tu); err != nil {
		return nil, err
	}
	return tu, nil
}

// anchorDayFor picks the billing anniversary day: the subscription start
// day, or for unsubscribed accounts with active top-ups, the most recent
// top-up's purchase day. Accounts with neither have an empty wallet, so the
// creation day is an arbitrary but stable fallback.
func anchorDayFor(acct *Account, activeTopUps []TopUp) int {
	if acct.Subscription != nil {
		return acct.Subscription.StartedAt.UTC().Day()
	}
	var latest time.Time
	for _, tu := range activeTopUps {
		if tu.PurchasedAt.After(latest) {
			latest = tu.PurchasedAt
		}
	}
	if !latest.IsZero() {
		return latest.UTC().Day()
	}
	return acct.CreatedAt.UTC().Day()
}
