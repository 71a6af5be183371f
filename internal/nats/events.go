package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "VITALOG_EVENTS"
)

// Subject constants.
const (
	SubjectUsageEvent = "vitalog.events.usage"
)

// UsageEvent is the wire form of a metered-action record. The usage
// consumer persists it; redelivery after a Nak is the out-of-band retry
// for telemetry failures.
type UsageEvent struct {
	ID               uuid.UUID `json:"id"`
	AccountID        uuid.UUID `json:"account_id"`
	Feature          string    `json:"feature"`
	Endpoint         string    `json:"endpoint,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostCents        int64     `json:"cost_cents"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	DedupKey         string    `json:"dedup_key,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
