package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists usage events.
type Store interface {
	// Insert appends an event. Re-inserting an event with the same id
	// is a silent no-op, which makes message redelivery safe.
	Insert(ctx context.Context, ev *Event) error
	// Exists reports whether an event with the given dedup key has
	// already been recorded for the account and feature.
	Exists(ctx context.Context, accountID uuid.UUID, feature, dedupKey string) (bool, error)
	// MonthlyBreakdown aggregates events per feature since the given
	// time, most expensive feature first.
	MonthlyBreakdown(ctx context.Context, accountID uuid.UUID, since time.Time) ([]FeatureUsage, error)
}
