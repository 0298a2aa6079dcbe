// Package fragment splits a large transaction into randomized,
// time-spread sub-transactions.
//
// Fragment sizes are drawn around an even split with uniform multipliers
// in [0.8, 1.2]; submission is strictly sequential with a random 1–10
// slot gap between fragments. The spread is the protection: an observer
// sees a sequence of unremarkable transfers instead of one large one,
// and the randomized timing realizes a time-weighted-average-price
// effect. Parallel submission would defeat the purpose.
package fragment

import (
	"fmt"
	"math/big"
	"math/rand"

	"github.com/shieldlabs/txshield/internal/intent"
)

// Status tracks a fragment through its lifecycle. A fragment is
// immutable once submitted.
type Status int

const (
	StatusPending Status = iota
	StatusSubmitted
	StatusConfirmed
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fragment is one slice of a fragmented intent. The ordered fragments
// for an intent sum exactly to its economic amount.
type Fragment struct {
	Index      uint32
	SizeShare  *big.Int
	Protection intent.ProtectionStrategy
	Status     Status
	Signature  string

	useRelay bool
}

// Fragment count bounds.
const (
	MinFragments = 5
	MaxFragments = 50
)

// Multiplier bounds in tenths of a percent: shares are drawn as
// base × m/10000 with m uniform in [8000, 12000].
const (
	multiplierLo   = 8000
	multiplierHi   = 12000
	multiplierBase = 10000
)

// Count computes the fragment count for an amount: floor(amount /
// minUnit) clamped to [5, 50]. A positive hint overrides the computed
// value but is clamped to the same bounds.
func Count(amount, minUnit *big.Int, hint int) int {
	if hint > 0 {
		return clamp(hint)
	}
	n := new(big.Int).Div(amount, minUnit)
	if !n.IsInt64() {
		return MaxFragments
	}
	return clamp(int(n.Int64()))
}

func clamp(n int) int {
	if n < MinFragments {
		return MinFragments
	}
	if n > MaxFragments {
		return MaxFragments
	}
	return n
}

// Split divides the intent's amount into n randomized fragments.
//
// Every fragment except the last gets base × U[0.8,1.2]; the last
// absorbs rounding so the shares sum exactly to the amount. Each draw
// is capped so the 0.8×base floor stays affordable for every fragment
// still to be assigned; when the amount is too small for that floor to
// be a whole unit, one smallest unit is reserved instead.
func Split(in *intent.TransactionIntent, n int, rng *rand.Rand) ([]*Fragment, error) {
	amount := in.EconomicAmount
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("fragment: non-positive amount")
	}
	if n < MinFragments || n > MaxFragments {
		return nil, fmt.Errorf("fragment: count %d outside [%d, %d]", n, MinFragments, MaxFragments)
	}
	if amount.Cmp(big.NewInt(int64(n))) < 0 {
		return nil, fmt.Errorf("fragment: amount too small to split into %d fragments", n)
	}

	base := new(big.Int).Div(amount, big.NewInt(int64(n)))
	remaining := new(big.Int).Set(amount)

	// The smallest share any fragment may take: the 0.8×base floor, or
	// one smallest unit when base is too small for the floor to round to
	// a whole unit. minShare ≤ base, so amount ≥ n×base keeps the
	// invariant remaining ≥ minShare×(fragments left) at every step.
	minShare := new(big.Int).Mul(base, big.NewInt(multiplierLo))
	minShare.Div(minShare, big.NewInt(multiplierBase))
	if minShare.Sign() <= 0 {
		minShare = big.NewInt(1)
	}

	frs := make([]*Fragment, n)
	for i := 0; i < n-1; i++ {
		m := int64(multiplierLo + rng.Intn(multiplierHi-multiplierLo+1))
		share := new(big.Int).Mul(base, big.NewInt(m))
		share.Div(share, big.NewInt(multiplierBase))

		// Reserve the floor for every fragment after this one so a run
		// of high draws cannot squeeze a later fragment below it.
		reserve := new(big.Int).Mul(minShare, big.NewInt(int64(n-1-i)))
		maxShare := new(big.Int).Sub(remaining, reserve)
		if share.Cmp(maxShare) > 0 {
			share.Set(maxShare)
		}
		if share.Cmp(minShare) < 0 {
			share.Set(minShare)
		}

		remaining.Sub(remaining, share)
		frs[i] = &Fragment{
			Index:      uint32(i),
			SizeShare:  share,
			Protection: intent.StrategyBasic,
			Status:     StatusPending,
		}
	}

	// Last fragment absorbs all rounding.
	if remaining.Sign() <= 0 {
		return nil, fmt.Errorf("fragment: rounding left no share for last fragment")
	}
	frs[n-1] = &Fragment{
		Index:      uint32(n - 1),
		SizeShare:  remaining,
		Protection: intent.StrategyBasic,
		Status:     StatusPending,
	}

	return frs, nil
}
