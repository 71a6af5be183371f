package usage

import (
	"time"

	"github.com/google/uuid"
)

// Event is one immutable record of a metered action. Events are appended
// for every action regardless of outcome and never mutated afterwards.
type Event struct {
	ID               uuid.UUID `json:"id"`
	AccountID        uuid.UUID `json:"account_id"`
	Feature          string    `json:"feature"`
	Endpoint         string    `json:"endpoint,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostCents        int64     `json:"cost_cents"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	DedupKey         string    `json:"dedup_key,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// FeatureUsage aggregates events per feature for monthly breakdowns.
type FeatureUsage struct {
	Feature          string `json:"feature"`
	Events           int64  `json:"events"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	CostCents        int64  `json:"cost_cents"`
}
