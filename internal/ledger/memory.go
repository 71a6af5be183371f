package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and local development.
// A single mutex serializes all mutations, which subsumes the per-account
// linearizability Charge requires.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
	topUps   map[uuid.UUID][]*TopUp
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*Account),
		topUps:   make(map[uuid.UUID][]*TopUp),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	if acct.Subscription != nil {
		sub := *acct.Subscription
		cp.Subscription = &sub
	}
	return &cp, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *acct
	if acct.Subscription != nil {
		sub := *acct.Subscription
		cp.Subscription = &sub
	}
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActiveTopUps(_ context.Context, accountID uuid.UUID, asOf time.Time) ([]TopUp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTopUpsLocked(accountID, asOf), nil
}

func (s *MemoryStore) activeTopUpsLocked(accountID uuid.UUID, asOf time.Time) []TopUp {
	var out []TopUp
	for _, tu := range s.topUps[accountID] {
		if tu.ExpiresAt.After(asOf) && tu.UsedCents < tu.AmountCents {
			out = append(out, *tu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *MemoryStore) AddTopUp(_ context.Context, topUp *TopUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *topUp
	s.topUps[topUp.AccountID] = append(s.topUps[topUp.AccountID], &cp)
	return nil
}

func (s *MemoryStore) Charge(_ context.Context, accountID uuid.UUID, amountCents, capCents int64, anchor, asOf time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}

	// Lazy monthly rollover.
	if acct.MonthlyResetAt.Before(anchor) {
		acct.MonthlyUsedCents = 0
		acct.MonthlyResetAt = anchor
	}

	monthlyRemaining := capCents - acct.MonthlyUsedCents
	if monthlyRemaining < 0 {
		monthlyRemaining = 0
	}

	// Resolve pointers to the live records, soonest expiry first.
	var live []*TopUp
	var topUpAvail int64
	for _, tu := range s.topUps[accountID] {
		if tu.ExpiresAt.After(asOf) && tu.UsedCents < tu.AmountCents {
			live = append(live, tu)
			topUpAvail += tu.AmountCents - tu.UsedCents
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ExpiresAt.Before(live[j].ExpiresAt) })

	if monthlyRemaining+topUpAvail < amountCents {
		return false, nil
	}

	left := amountCents
	if fromMonthly := min(left, monthlyRemaining); fromMonthly > 0 {
		acct.MonthlyUsedCents += fromMonthly
		left -= fromMonthly
	}
	for _, tu := range live {
		if left == 0 {
			break
		}
		take := min(left, tu.AmountCents-tu.UsedCents)
		tu.UsedCents += take
		left -= take
	}
	return true, nil
}
