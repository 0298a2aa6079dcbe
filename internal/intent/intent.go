// Package intent defines the shared vocabulary of the protection engine:
// transaction intents, protection strategies, and execution results.
//
// An intent is immutable once submitted. All economic amounts are big.Int
// values in the ledger's smallest unit (see internal/baseunit).
package intent

import (
	"fmt"
	"math/big"
	"time"
)

// TransactionIntent is a caller-supplied request to execute a set of
// already-built instruction payloads under MEV protection.
type TransactionIntent struct {
	Instructions   [][]byte  // opaque, pre-built instruction payloads
	EconomicAmount *big.Int  // total economic size, smallest unit
	Deadline       time.Time // overall execution deadline
	MaxSlippageBps uint16
}

// Validate rejects malformed intents before any network call is made.
// All failures wrap ErrInvalidIntent.
func (in *TransactionIntent) Validate(now time.Time) error {
	if in.EconomicAmount == nil || in.EconomicAmount.Sign() <= 0 {
		return fmt.Errorf("%w: economic amount must be positive", ErrInvalidIntent)
	}
	if len(in.Instructions) == 0 {
		return fmt.Errorf("%w: no instructions", ErrInvalidIntent)
	}
	for i, ins := range in.Instructions {
		if len(ins) == 0 {
			return fmt.Errorf("%w: instruction %d is empty", ErrInvalidIntent, i)
		}
	}
	if !in.Deadline.After(now) {
		return fmt.Errorf("%w: deadline is not in the future", ErrInvalidIntent)
	}
	return nil
}

// Expired reports whether the intent's deadline has passed. A zero
// deadline never expires; Validate rejects those before execution starts,
// so this is only reachable for internally constructed sub-intents.
func (in *TransactionIntent) Expired(now time.Time) bool {
	return !in.Deadline.IsZero() && now.After(in.Deadline)
}

// ProtectionStrategy selects how an intent is shielded from observers.
type ProtectionStrategy int

const (
	StrategyBasic        ProtectionStrategy = iota // single guarded submission
	StrategyFragmented                             // randomized TWAP-style fragments
	StrategyCommitReveal                           // two-phase hash commitment
	StrategyFull                                   // decoys + commit-reveal or fragments
)

// String returns the strategy name.
func (s ProtectionStrategy) String() string {
	switch s {
	case StrategyBasic:
		return "basic"
	case StrategyFragmented:
		return "fragmented"
	case StrategyCommitReveal:
		return "commit_reveal"
	case StrategyFull:
		return "full"
	default:
		return "unknown"
	}
}

// ExecutionResult aggregates the outcome of one protected execution.
//
// Partial is true iff execution aborted mid-sequence; Signatures then
// contains only the fragments/phases that confirmed before the abort.
// Callers must check Partial; a partial result is never success.
type ExecutionResult struct {
	Signatures       []string
	StrategyUsed     ProtectionStrategy
	EstimatedSavings *big.Int
	ProtectionCost   *big.Int
	Partial          bool
}
