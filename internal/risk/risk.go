// Package risk maps a transaction's economic size to a protection tier.
//
// The tier assignment is a pure, monotonic step function over fixed
// thresholds. It is the engine's default strategy input before adaptive
// refinement; live network conditions never lower the tier, only the
// strategy chosen within it.
package risk

import (
	"math/big"

	"github.com/shieldlabs/txshield/internal/baseunit"
)

// Tier classifies an intent by economic exposure.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Tier thresholds in base economic units. Amounts strictly below a
// threshold fall in the tier beneath it.
const (
	MediumThresholdBase   = 1_000
	HighThresholdBase     = 10_000
	CriticalThresholdBase = 100_000
)

var (
	mediumThreshold   = baseunit.FromBase(MediumThresholdBase)
	highThreshold     = baseunit.FromBase(HighThresholdBase)
	criticalThreshold = baseunit.FromBase(CriticalThresholdBase)
)

// Assess classifies an amount (smallest units) into a tier.
// Pure and stateless; no error conditions.
func Assess(amount *big.Int) Tier {
	switch {
	case amount == nil || amount.Cmp(mediumThreshold) < 0:
		return TierLow
	case amount.Cmp(highThreshold) < 0:
		return TierMedium
	case amount.Cmp(criticalThreshold) < 0:
		return TierHigh
	default:
		return TierCritical
	}
}

// RevealDelaySlots is the commit-reveal wait window for a tier.
// Only High and Critical intents use the commit-reveal path.
func RevealDelaySlots(t Tier) uint32 {
	if t == TierCritical {
		return 10
	}
	return 5
}
