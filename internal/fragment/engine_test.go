package fragment

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/router"
)

// advancingLedger moves the chain forward on every slot query so slot
// waits resolve without wall-clock sleeps.
type advancingLedger struct {
	mu   sync.Mutex
	slot uint64
}

func (l *advancingLedger) CurrentSlot(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot += maxDelaySlots + 1
	return l.slot, nil
}

func (l *advancingLedger) SubmitRaw(ctx context.Context, p []byte) (string, error) {
	return "", errors.New("unused")
}

func (l *advancingLedger) SignatureStatus(ctx context.Context, sig string) (ledgerclient.Status, error) {
	return ledgerclient.StatusConfirmed, nil
}

// recordingSubmitter records submissions and fails at a chosen index.
type recordingSubmitter struct {
	mu        sync.Mutex
	sigs      []string
	opts      []router.Options
	failAt    int // submission index to fail at; -1 = never
	failAfter error
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{failAt: -1}
}

func (s *recordingSubmitter) Submit(ctx context.Context, payload []byte, opts router.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && len(s.sigs) == s.failAt {
		return "", errors.New("submission rejected")
	}
	sig := string(rune('a' + len(s.sigs)))
	s.sigs = append(s.sigs, sig)
	s.opts = append(s.opts, opts)
	return sig, nil
}

func (s *recordingSubmitter) Confirm(ctx context.Context, sig string, timeout time.Duration) (router.ConfirmStatus, error) {
	return router.Confirmed, nil
}

func newTestEngine(sub Submitter, ledger ledgerclient.Client, seed int64) *Engine {
	return NewEngine(
		sub,
		ledger,
		big.NewInt(1_000),         // min fragment unit
		big.NewInt(1_000_000_000), // relay size threshold
		slog.New(slog.DiscardHandler),
		rand.New(rand.NewSource(seed)),
	).WithConfirmTimeout(time.Millisecond)
}

func execIntent(amount int64) *intent.TransactionIntent {
	return &intent.TransactionIntent{
		Instructions:   [][]byte{{0x01, 0x02}},
		EconomicAmount: big.NewInt(amount),
		Deadline:       time.Now().Add(time.Hour),
	}
}

func TestExecuteSequential_AllConfirm(t *testing.T) {
	sub := newRecordingSubmitter()
	eng := newTestEngine(sub, &advancingLedger{}, 7)
	in := execIntent(10_000)

	frs, err := eng.Fragment(in, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frs), MinFragments)
	require.LessOrEqual(t, len(frs), MaxFragments)

	result, err := eng.ExecuteSequential(context.Background(), in, frs)
	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.Len(t, result.Signatures, len(frs))
	for _, f := range frs {
		assert.Equal(t, StatusConfirmed, f.Status)
	}
}

func TestExecuteSequential_AbortsOnFailure(t *testing.T) {
	sub := newRecordingSubmitter()
	sub.failAt = 3
	eng := newTestEngine(sub, &advancingLedger{}, 8)
	in := execIntent(10_000)

	frs, err := eng.Fragment(in, 10)
	require.NoError(t, err)
	require.Len(t, frs, 10)

	result, err := eng.ExecuteSequential(context.Background(), in, frs)
	require.Error(t, err)

	var fe *ExecutionError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint32(3), fe.Index)

	assert.True(t, result.Partial)
	assert.Len(t, result.Signatures, 3, "only fragments before the failure confirmed")
	assert.Equal(t, StatusFailed, frs[3].Status)
	for _, f := range frs[4:] {
		assert.Equal(t, StatusPending, f.Status, "fragments after the failure must be untouched")
	}
}

func TestExecuteSequential_EveryThirdFragmentUsesRelay(t *testing.T) {
	sub := newRecordingSubmitter()
	eng := newTestEngine(sub, &advancingLedger{}, 9)
	in := execIntent(10_000)

	frs, err := eng.Fragment(in, 9)
	require.NoError(t, err)

	_, err = eng.ExecuteSequential(context.Background(), in, frs)
	require.NoError(t, err)

	require.Len(t, sub.opts, 9)
	for i, o := range sub.opts {
		if i%3 == 0 {
			assert.True(t, o.PreferRelay, "fragment %d must use relay", i)
		}
	}
}

func TestExecuteSequential_LargeSharesPreferRelay(t *testing.T) {
	sub := newRecordingSubmitter()
	eng := NewEngine(
		sub,
		&advancingLedger{},
		big.NewInt(1_000),
		big.NewInt(10), // tiny threshold: every share exceeds it
		slog.New(slog.DiscardHandler),
		rand.New(rand.NewSource(10)),
	).WithConfirmTimeout(time.Millisecond)
	in := execIntent(10_000)

	frs, err := eng.Fragment(in, 6)
	require.NoError(t, err)

	_, err = eng.ExecuteSequential(context.Background(), in, frs)
	require.NoError(t, err)

	for i, o := range sub.opts {
		assert.True(t, o.PreferRelay, "fragment %d share exceeds threshold", i)
	}
}

func TestExecuteSequential_DeadlineAbortsRemainder(t *testing.T) {
	sub := newRecordingSubmitter()
	eng := newTestEngine(sub, &advancingLedger{}, 11)

	in := execIntent(10_000)
	frs, err := eng.Fragment(in, 5)
	require.NoError(t, err)

	in.Deadline = time.Now().Add(-time.Second)

	result, err := eng.ExecuteSequential(context.Background(), in, frs)
	require.Error(t, err)
	assert.ErrorIs(t, err, intent.ErrDeadlineExceeded)
	assert.True(t, result.Partial)
	assert.Empty(t, result.Signatures)
}

func TestExecuteSequential_ContextCancelAborts(t *testing.T) {
	sub := newRecordingSubmitter()
	eng := newTestEngine(sub, &advancingLedger{}, 12)
	in := execIntent(10_000)

	frs, err := eng.Fragment(in, 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.ExecuteSequential(ctx, in, frs)
	require.Error(t, err)
	assert.True(t, result.Partial)
}
