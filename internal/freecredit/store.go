package freecredit

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary for free-credit counters. Consume and
// Grant are the only mutations, and both must be single atomic conditional
// updates: no read-then-write sequences.
type Store interface {
	Get(ctx context.Context, accountID uuid.UUID, feature string) (*Counter, error)
	List(ctx context.Context, accountID uuid.UUID) ([]Counter, error)

	// Grant creates the counter if the account has never been granted this
	// feature. Returns false when the row already existed, regardless of
	// its remaining balance, so a consumed-to-zero counter never re-grants.
	Grant(ctx context.Context, accountID uuid.UUID, feature string, count int) (bool, error)

	// Consume decrements the counter by exactly one iff it is positive.
	// Two concurrent calls against a counter of 1 yield one true and one
	// false; underflow is structurally impossible.
	Consume(ctx context.Context, accountID uuid.UUID, feature string) (bool, error)
}
