package freecredit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitalog-health/vitalog/internal/config"
)

// Service manages the one-time free-use counters granted to new accounts.
// Free credits are always consumed before any paid pool.
type Service struct {
	store Store
	cfg   config.FreeCreditsConfig
	now   func() time.Time
}

func NewService(store Store, cfg config.FreeCreditsConfig) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// WithClock overrides the service clock. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// HasCredit reports whether the account still has free uses of feature.
func (s *Service) HasCredit(ctx context.Context, accountID uuid.UUID, feature string) (bool, error) {
	c, err := s.store.Get(ctx, accountID, feature)
	if err != nil {
		return false, err
	}
	return c != nil && c.Remaining > 0, nil
}

// ConsumeCredit spends one free use of feature. The decrement re-checks the
// balance atomically, so concurrent calls against a last remaining credit
// produce exactly one success.
func (s *Service) ConsumeCredit(ctx context.Context, accountID uuid.UUID, feature string) (bool, error) {
	return s.store.Consume(ctx, accountID, feature)
}

// GrantInitial issues the launch set of free credits to a new account. The
// grant is an atomic claim per feature: retriggering it after any credit
// has been consumed re-grants nothing.
func (s *Service) GrantInitial(ctx context.Context, accountID uuid.UUID) error {
	for feature, count := range s.cfg.Grants {
		granted, err := s.store.Grant(ctx, accountID, feature, count)
		if err != nil {
			return err
		}
		if granted {
			slog.Debug("granted free credits", "account", accountID, "feature", feature, "count", count)
		}
	}
	return nil
}

// GrantBackfill issues the launch set to an account created before the free
// credit feature shipped, while the backfill grace window is still open.
// The underlying claim is atomic, so a racing double-call never
// over-grants.
func (s *Service) GrantBackfill(ctx context.Context, accountID uuid.UUID, accountCreatedAt time.Time) error {
	now := s.now().UTC()
	if !accountCreatedAt.Before(s.cfg.LaunchedAt) {
		return nil
	}
	if now.After(s.cfg.LaunchedAt.Add(s.cfg.BackfillWindow)) {
		return nil
	}
	return s.GrantInitial(ctx, accountID)
}

// EnsureGranted routes an account to the right grant path: accounts
// created after the feature launched get the launch set, older accounts
// the time-boxed backfill. Safe to call on every status read.
func (s *Service) EnsureGranted(ctx context.Context, accountID uuid.UUID, accountCreatedAt time.Time) error {
	if accountCreatedAt.Before(s.cfg.LaunchedAt) {
		return s.GrantBackfill(ctx, accountID, accountCreatedAt)
	}
	return s.GrantInitial(ctx, accountID)
}

// Status returns all of the account's counters and their sum. A missing
// counter reads as zero.
func (s *Service) Status(ctx context.Context, accountID uuid.UUID) (*Status, error) {
	counters, err := s.store.List(ctx, accountID)
	if err != nil {
		return nil, err
	}

	st := &Status{Counters: make(map[string]int, len(s.cfg.Grants))}
	for feature := range s.cfg.Grants {
		st.Counters[feature] = 0
	}
	for _, c := range counters {
		st.Counters[c.Feature] = c.Remaining
		st.Total += c.Remaining
	}
	return st, nil
}
