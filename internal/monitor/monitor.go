// Package monitor samples live network conditions and recommends
// strategy parameters.
//
// Samples are ephemeral: they inform the decision being made right now
// and are never persisted. When sampling fails the monitor serves the
// last-known-good sample marked stale; the orchestrator treats staleness
// as cause to fall back to the static tier-only strategy, failing open
// to the conservative side, never the permissive one.
package monitor

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/risk"
)

// ActivityLevel buckets observed mempool traffic.
type ActivityLevel int

const (
	ActivityLow ActivityLevel = iota
	ActivityMedium
	ActivityHigh
)

// String returns the level name.
func (a ActivityLevel) String() string {
	switch a {
	case ActivityLow:
		return "low"
	case ActivityMedium:
		return "medium"
	case ActivityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Pending-count thresholds for activity bucketing.
const (
	mediumActivityPending = 100
	highActivityPending   = 500
)

// Factor weights for the composite risk score.
const (
	weightActivity   = 0.6
	weightCongestion = 0.4
)

// Sample is one observation of network conditions.
type Sample struct {
	ObservedAt time.Time
	Activity   ActivityLevel
	RiskScore  float64 // in [0, 1]
	Stale      bool    // served from cache after a sampling failure
}

// Recommendation tunes the strategy for current conditions.
type Recommendation struct {
	FeeMultiplier  float64
	ShouldFragment bool
	DelaySlots     uint32
}

// Monitor samples conditions from the ledger and an optional mempool
// feed. Safe for concurrent use across intents.
type Monitor struct {
	ledger ledgerclient.Client
	feed   *Feed // optional
	logger *slog.Logger

	// fragmentThreshold is the absolute value (smallest units) above
	// which amount × riskScore tips the recommendation to fragment,
	// independent of the static tier.
	fragmentThreshold *big.Int

	mu         sync.Mutex
	lastGood   *Sample
	lastSlot   uint64
	lastSlotAt time.Time
}

// New creates a monitor. feed may be nil; fragmentThreshold is in
// smallest units.
func New(ledger ledgerclient.Client, feed *Feed, fragmentThreshold *big.Int, logger *slog.Logger) *Monitor {
	return &Monitor{
		ledger:            ledger,
		feed:              feed,
		fragmentThreshold: fragmentThreshold,
		logger:            logger,
	}
}

// SampleNow observes current conditions. On failure it returns the
// last-known-good sample marked stale; if none exists yet, a maximally
// conservative stale sample is returned.
func (m *Monitor) SampleNow(ctx context.Context) *Sample {
	slot, err := m.ledger.CurrentSlot(ctx)
	if err != nil {
		metrics.MonitorSamplesTotal.WithLabelValues("stale").Inc()
		m.logger.Warn("network sampling failed, serving stale sample", "error", err)
		return m.staleSample()
	}

	m.mu.Lock()
	congestion := m.congestionFactor(slot, time.Now())
	m.mu.Unlock()

	activityScore := 0.0
	level := ActivityLow
	if m.feed != nil {
		if pending, ok := m.feed.PendingCount(); ok {
			activityScore, level = activityFactor(pending)
		}
	}

	score := clamp01(activityScore*weightActivity + congestion*weightCongestion)

	s := &Sample{
		ObservedAt: time.Now(),
		Activity:   level,
		RiskScore:  score,
	}

	m.mu.Lock()
	m.lastGood = s
	m.mu.Unlock()

	metrics.MonitorSamplesTotal.WithLabelValues("fresh").Inc()
	return s
}

// staleSample serves the cached sample, or a worst-case one if the
// monitor has never succeeded.
func (m *Monitor) staleSample() *Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastGood != nil {
		c := *m.lastGood
		c.Stale = true
		return &c
	}
	return &Sample{
		ObservedAt: time.Now(),
		Activity:   ActivityHigh,
		RiskScore:  1.0,
		Stale:      true,
	}
}

// congestionFactor scores slot-height stalls: a chain that has not
// advanced since the previous observation suggests congestion.
// Caller must hold m.mu.
func (m *Monitor) congestionFactor(slot uint64, now time.Time) float64 {
	defer func() {
		m.lastSlot = slot
		m.lastSlotAt = now
	}()

	if m.lastSlotAt.IsZero() || slot > m.lastSlot {
		return 0.0
	}
	// Stalled: scale with how long the height has been stuck.
	stalled := now.Sub(m.lastSlotAt)
	return clamp01(stalled.Seconds() / 10.0)
}

// activityFactor normalizes a pending-transaction count into [0,1] and
// its activity bucket.
func activityFactor(pending int) (float64, ActivityLevel) {
	switch {
	case pending >= highActivityPending:
		return 1.0, ActivityHigh
	case pending >= mediumActivityPending:
		return float64(pending) / float64(highActivityPending), ActivityMedium
	default:
		return float64(pending) / float64(highActivityPending), ActivityLow
	}
}

// Recommend derives strategy parameters from a sample.
//
// FeeMultiplier grows monotonically with the risk score. ShouldFragment
// becomes true once amount × riskScore exceeds the configured absolute
// threshold, independent of the static tier.
func (m *Monitor) Recommend(amount *big.Int, tier risk.Tier, s *Sample) Recommendation {
	rec := Recommendation{
		FeeMultiplier: 1.0 + s.RiskScore,
		DelaySlots:    risk.RevealDelaySlots(tier),
	}

	if s.RiskScore > 0.8 {
		rec.DelaySlots += 5
	}

	if amount != nil && m.fragmentThreshold != nil {
		weighted := new(big.Float).SetInt(amount)
		weighted.Mul(weighted, big.NewFloat(s.RiskScore))
		threshold := new(big.Float).SetInt(m.fragmentThreshold)
		rec.ShouldFragment = weighted.Cmp(threshold) > 0
	}

	return rec
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
