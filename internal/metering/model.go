package metering

import "github.com/google/uuid"

// DenyReason distinguishes "never had access" from "temporarily out of
// funds" so callers can shape upgrade-vs-wait messaging.
type DenyReason string

const (
	DenyNone              DenyReason = ""
	DenyNoAccess          DenyReason = "no_access"
	DenyInsufficientFunds DenyReason = "insufficient_funds"
)

// CostModel describes how an action is priced: a fixed number of cents,
// or token-metered against a model and prompt.
type CostModel struct {
	FixedCents      int64
	Model           string
	PromptText      string
	MaxOutputTokens int
}

// FixedCost prices an action at a flat number of cents.
func FixedCost(cents int64) CostModel {
	return CostModel{FixedCents: cents}
}

// VariableCost prices an action by estimated token usage.
func VariableCost(model, promptText string, maxOutputTokens int) CostModel {
	return CostModel{Model: model, PromptText: promptText, MaxOutputTokens: maxOutputTokens}
}

// Variable reports whether the action is token-metered.
func (c CostModel) Variable() bool {
	return c.Model != ""
}

// MeterRequest is the pre-flight check for one metered action.
type MeterRequest struct {
	AccountID uuid.UUID
	Feature   string
	Endpoint  string
	DedupKey  string
	Cost      CostModel
}

// Decision is the outcome of a pre-flight check. Denials are routine
// business outcomes, not errors.
type Decision struct {
	Allowed bool
	// UsedFree: a free credit was consumed and covers the action.
	UsedFree bool
	// SkipCharge: a prior event with the same dedup key already paid
	// for this logical action.
	SkipCharge bool
	// CappedMaxOutput is the affordable output budget for token-metered
	// actions; equals the requested budget when the wallet covers it.
	CappedMaxOutput int
	Reason          DenyReason
}

// SettleRequest reports the realized outcome of an action after it ran.
type SettleRequest struct {
	AccountID        uuid.UUID
	Feature          string
	Endpoint         string
	Model            string
	DedupKey         string
	UsedFree         bool
	SkipCharge       bool
	PromptTokens     int
	CompletionTokens int
	// ActualCostCents is the realized cost. Zero with token counts
	// present means "compute from tokens".
	ActualCostCents int64
	Success         bool
	ErrorMessage    string
}
