package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	vnats "github.com/vitalog-health/vitalog/internal/nats"
)

// eventPublisher is the async path for usage records.
type eventPublisher interface {
	PublishUsageEvent(ctx context.Context, event vnats.UsageEvent) error
}

// Recorder writes usage events. Keyless events go through JetStream when
// a publisher is configured and are persisted by the consumer; events
// carrying a dedup key are always inserted directly, because the next
// dedup lookup reads the store and must see them before Record returns.
// Recording never fails the action that produced the event: errors are
// logged and swallowed.
type Recorder struct {
	store     Store
	publisher eventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewRecorder(store Store, publisher eventPublisher, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Record persists a usage event on a best-effort basis.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	ev.TotalTokens = ev.PromptTokens + ev.CompletionTokens

	// Dedup-keyed events gate future charges and must not sit in flight
	// on the stream while a second check reads the store.
	if r.publisher != nil && ev.DedupKey == "" {
		err := r.publisher.PublishUsageEvent(ctx, vnats.UsageEvent{
			ID:               ev.ID,
			AccountID:        ev.AccountID,
			Feature:          ev.Feature,
			Endpoint:         ev.Endpoint,
			Model:            ev.Model,
			PromptTokens:     ev.PromptTokens,
			CompletionTokens: ev.CompletionTokens,
			CostCents:        ev.CostCents,
			Success:          ev.Success,
			ErrorMessage:     ev.ErrorMessage,
			DedupKey:         ev.DedupKey,
			OccurredAt:       ev.CreatedAt,
		})
		if err == nil {
			return
		}
		r.logger.Warn("publishing usage event failed, falling back to direct insert",
			"account_id", ev.AccountID, "feature", ev.Feature, "error", err)
	}

	if err := r.store.Insert(ctx, &ev); err != nil {
		r.logger.Error("recording usage event failed",
			"account_id", ev.AccountID, "feature", ev.Feature, "error", err)
	}
}

// HasEvent reports whether a settled event with the given dedup key
// already exists for the account and feature.
func (r *Recorder) HasEvent(ctx context.Context, accountID uuid.UUID, feature, dedupKey string) (bool, error) {
	return r.store.Exists(ctx, accountID, feature, dedupKey)
}

// Breakdown aggregates the account's events per feature since the given time.
func (r *Recorder) Breakdown(ctx context.Context, accountID uuid.UUID, since time.Time) ([]FeatureUsage, error) {
	return r.store.MonthlyBreakdown(ctx, accountID, since)
}
