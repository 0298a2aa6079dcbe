package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/risk"
)

type scriptedLedger struct {
	slot uint64
	err  error
}

func (l *scriptedLedger) CurrentSlot(ctx context.Context) (uint64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.slot++
	return l.slot, nil
}

func (l *scriptedLedger) SubmitRaw(ctx context.Context, p []byte) (string, error) {
	return "", errors.New("unused")
}

func (l *scriptedLedger) SignatureStatus(ctx context.Context, sig string) (ledgerclient.Status, error) {
	return ledgerclient.StatusNotFound, nil
}

func testMonitor(ledger ledgerclient.Client, threshold int64) *Monitor {
	return New(ledger, nil, big.NewInt(threshold), slog.New(slog.DiscardHandler))
}

func TestSampleNow_HealthyChainScoresLow(t *testing.T) {
	m := testMonitor(&scriptedLedger{slot: 100}, 1)

	s := m.SampleNow(context.Background())
	require.False(t, s.Stale)
	assert.Equal(t, ActivityLow, s.Activity)
	assert.LessOrEqual(t, s.RiskScore, 0.1)
}

func TestSampleNow_FailureWithNoHistoryIsConservative(t *testing.T) {
	m := testMonitor(&scriptedLedger{err: errors.New("node down")}, 1)

	s := m.SampleNow(context.Background())
	assert.True(t, s.Stale)
	assert.Equal(t, ActivityHigh, s.Activity)
	assert.Equal(t, 1.0, s.RiskScore)
}

func TestSampleNow_FailureServesLastKnownGoodAsStale(t *testing.T) {
	ledger := &scriptedLedger{slot: 100}
	m := testMonitor(ledger, 1)

	fresh := m.SampleNow(context.Background())
	require.False(t, fresh.Stale)

	ledger.err = errors.New("node down")
	stale := m.SampleNow(context.Background())
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.RiskScore, stale.RiskScore, "cached score served on failure")
}

func TestRecommend_FeeMultiplierMonotonic(t *testing.T) {
	m := testMonitor(&scriptedLedger{}, 1)

	prev := 0.0
	for _, score := range []float64{0.0, 0.2, 0.5, 0.8, 1.0} {
		rec := m.Recommend(big.NewInt(1000), risk.TierMedium, &Sample{RiskScore: score})
		assert.Greater(t, rec.FeeMultiplier, prev, "fee multiplier must grow with risk score")
		prev = rec.FeeMultiplier
	}
}

func TestRecommend_FragmentThreshold(t *testing.T) {
	// Threshold 10_000: amount × score must exceed it.
	m := testMonitor(&scriptedLedger{}, 10_000)

	rec := m.Recommend(big.NewInt(100_000), risk.TierMedium, &Sample{RiskScore: 0.05})
	assert.False(t, rec.ShouldFragment, "5_000 weighted is below threshold")

	rec = m.Recommend(big.NewInt(100_000), risk.TierMedium, &Sample{RiskScore: 0.5})
	assert.True(t, rec.ShouldFragment, "50_000 weighted exceeds threshold")

	// Independent of tier.
	rec = m.Recommend(big.NewInt(100_000), risk.TierLow, &Sample{RiskScore: 0.5})
	assert.True(t, rec.ShouldFragment)
}

func TestRecommend_DelayFollowsTier(t *testing.T) {
	m := testMonitor(&scriptedLedger{}, 1)

	rec := m.Recommend(big.NewInt(1), risk.TierHigh, &Sample{RiskScore: 0.1})
	assert.Equal(t, uint32(5), rec.DelaySlots)

	rec = m.Recommend(big.NewInt(1), risk.TierCritical, &Sample{RiskScore: 0.1})
	assert.Equal(t, uint32(10), rec.DelaySlots)

	// Extreme conditions extend the window.
	rec = m.Recommend(big.NewInt(1), risk.TierCritical, &Sample{RiskScore: 0.9})
	assert.Equal(t, uint32(15), rec.DelaySlots)
}

func TestCongestionFactor_StalledChainScoresUp(t *testing.T) {
	m := testMonitor(&scriptedLedger{}, 1)

	now := time.Now()
	m.mu.Lock()
	first := m.congestionFactor(50, now)
	stalled := m.congestionFactor(50, now.Add(5*time.Second))
	m.mu.Unlock()

	assert.Equal(t, 0.0, first, "first observation has no baseline")
	assert.InDelta(t, 0.5, stalled, 0.01, "5s stall on a 10s scale")
}

func TestActivityFactor_Buckets(t *testing.T) {
	score, level := activityFactor(10)
	assert.Equal(t, ActivityLow, level)
	assert.Less(t, score, 0.2)

	_, level = activityFactor(200)
	assert.Equal(t, ActivityMedium, level)

	score, level = activityFactor(900)
	assert.Equal(t, ActivityHigh, level)
	assert.Equal(t, 1.0, score)
}
