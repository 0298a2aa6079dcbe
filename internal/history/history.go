// Package history persists an audit trail of completed protected
// executions.
//
// Live execution state (commitments, fragments, samples) is never
// persisted; only the terminal outcome of each intent, for operator
// review and for callers deciding whether to resubmit a partial
// remainder.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("history: record not found")

// Record is the terminal outcome of one protected execution.
// Amounts are decimal strings in base units (see internal/baseunit).
type Record struct {
	ID               string    `json:"id"`
	Amount           string    `json:"amount"`
	Tier             string    `json:"tier"`
	Strategy         string    `json:"strategy"`
	Partial          bool      `json:"partial"`
	Signatures       []string  `json:"signatures"`
	EstimatedSavings string    `json:"estimatedSavings"`
	ProtectionCost   string    `json:"protectionCost"`
	FailureReason    string    `json:"failureReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store persists execution records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
}
