package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID != uuid.Nil {
		for _, e := range s.events {
			if e.ID == ev.ID {
				return nil
			}
		}
	}
	cp := *ev
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, cp)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, accountID uuid.UUID, feature, dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.AccountID == accountID && e.Feature == feature && e.DedupKey == dedupKey {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) MonthlyBreakdown(_ context.Context, accountID uuid.UUID, since time.Time) ([]FeatureUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := make(map[string]*FeatureUsage)
	for _, e := range s.events {
		if e.AccountID != accountID || e.CreatedAt.Before(since) {
			continue
		}
		fu, ok := agg[e.Feature]
		if !ok {
			fu = &FeatureUsage{Feature: e.Feature}
			agg[e.Feature] = fu
		}
		fu.Events++
		fu.PromptTokens += int64(e.PromptTokens)
		fu.CompletionTokens += int64(e.CompletionTokens)
		fu.CostCents += e.CostCents
	}

	out := make([]FeatureUsage, 0, len(agg))
	for _, fu := range agg {
		out = append(out, *fu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostCents != out[j].CostCents {
			return out[i].CostCents > out[j].CostCents
		}
		return out[i].Feature < out[j].Feature
	})
	return out, nil
}

// Events returns a copy of all stored events, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
