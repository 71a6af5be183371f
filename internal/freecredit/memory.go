package freecredit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type counterKey struct {
	account uuid.UUID
	feature string
}

// MemoryStore is an in-process Store for tests and local development. The
// mutex gives the same check-and-mutate atomicity the SQL conditional
// updates provide.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]*Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[counterKey]*Counter)}
}

func (s *MemoryStore) Get(_ context.Context, accountID uuid.UUID, feature string) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterKey{accountID, feature}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, accountID uuid.UUID) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Counter
	for key, c := range s.counters {
		if key.account == accountID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}

func (s *MemoryStore) Grant(_ context.Context, accountID uuid.UUID, feature string, count int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{accountID, feature}
	if _, exists := s.counters[key]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	s.counters[key] = &Counter{
		AccountID: accountID,
		Feature:   feature,
		Remaining: count,
		GrantedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (s *MemoryStore) Consume(_ context.Context, accountID uuid.UUID, feature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterKey{accountID, feature}]
	if !ok || c.Remaining <= 0 {
		return false, nil
	}
	c.Remaining--
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}
