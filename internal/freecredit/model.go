package freecredit

import (
	"time"

	"github.com/google/uuid"
)

// Counter is a per-account, per-feature free-use balance. The existence of
// the row is the "ever granted" signal: a counter consumed down to zero is
// kept so the grant path cannot re-issue it.
type Counter struct {
	AccountID uuid.UUID `json:"account_id"`
	Feature   string    `json:"feature"`
	Remaining int       `json:"remaining"`
	GrantedAt time.Time `json:"granted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status lists an account's free-use counters for API display.
type Status struct {
	Counters map[string]int `json:"counters"`
	Total    int            `json:"total"`
}
