package usage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	vnats "github.com/vitalog-health/vitalog/internal/nats"
)

// Consumer listens on the usage event NATS subject and persists events to
// the database. Failed persists are Nak'd so JetStream redelivers them.
type Consumer struct {
	store       Store
	consumerMgr *vnats.ConsumerManager
}

// NewConsumer creates a new usage event Consumer.
func NewConsumer(store Store, consumerMgr *vnats.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, vnats.StreamEvents, "usage-persister", vnats.SubjectUsageEvent)
	if err != nil {
		return err
	}

	slog.Info("usage consumer started", "consumer", "usage-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(vnats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("usage consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event vnats.UsageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("usage consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	if err := c.store.Insert(ctx, eventFromWire(event)); err != nil {
		slog.Error("usage consumer: persisting event", "error", err, "account_id", event.AccountID, "feature", event.Feature)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("usage consumer: persisted event",
		"account_id", event.AccountID,
		"feature", event.Feature,
		"cost_cents", event.CostCents,
	)
}

// eventFromWire converts a stream message into its database row.
func eventFromWire(event vnats.UsageEvent) *Event {
	return &Event{
		ID:               event.ID,
		AccountID:        event.AccountID,
		Feature:          event.Feature,
		Endpoint:         event.Endpoint,
		Model:            event.Model,
		PromptTokens:     event.PromptTokens,
		CompletionTokens: event.CompletionTokens,
		TotalTokens:      event.PromptTokens + event.CompletionTokens,
		CostCents:        event.CostCents,
		Success:          event.Success,
		ErrorMessage:     event.ErrorMessage,
		DedupKey:         event.DedupKey,
		CreatedAt:        event.OccurredAt,
	}
}
