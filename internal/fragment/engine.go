package fragment

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/router"
)

// Inter-fragment delay bounds, in slots.
const (
	minDelaySlots = 1
	maxDelaySlots = 10
)

// ExecutionError reports which fragment broke the sequence. The partial
// result returned alongside carries the signatures confirmed before it.
type ExecutionError struct {
	Index uint32
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("fragment %d: %v", e.Index, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Submitter is the slice of the router the engine needs.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, opts router.Options) (string, error)
	Confirm(ctx context.Context, sig string, timeout time.Duration) (router.ConfirmStatus, error)
}

// Engine fragments intents and executes the pieces sequentially.
// One Engine serves many intents concurrently; the PRNG is the only
// shared mutable state and is guarded.
type Engine struct {
	submitter Submitter
	ledger    ledgerclient.Client
	logger    *slog.Logger

	minFragmentUnit    *big.Int // smallest units per fragment-count step
	relaySizeThreshold *big.Int // shares above this always prefer the relay
	confirmTimeout     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates a fragmentation engine. rng may be nil, in which
// case a time-seeded PRNG is used; tests inject a fixed seed.
// Statistical uniformity is all that matters here; the commitment
// secret is the only value that needs a cryptographic source.
func NewEngine(submitter Submitter, ledger ledgerclient.Client, minFragmentUnit, relaySizeThreshold *big.Int, logger *slog.Logger, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		submitter:          submitter,
		ledger:             ledger,
		logger:             logger,
		minFragmentUnit:    minFragmentUnit,
		relaySizeThreshold: relaySizeThreshold,
		confirmTimeout:     60 * time.Second,
		rng:                rng,
	}
}

// WithConfirmTimeout overrides the per-fragment confirmation timeout.
func (e *Engine) WithConfirmTimeout(d time.Duration) *Engine {
	e.confirmTimeout = d
	return e
}

// Fragment splits the intent into randomized fragments. hint, when
// positive, overrides the amount-derived count (clamped to [5, 50]).
func (e *Engine) Fragment(in *intent.TransactionIntent, hint int) ([]*Fragment, error) {
	n := Count(in.EconomicAmount, e.minFragmentUnit, hint)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Split(in, n, e.rng)
}

// ExecuteSequential submits fragments in order, waiting a random 1–10
// slot gap before each fragment after the first.
//
// If any fragment's submission or confirmation fails, the remaining
// fragments are abandoned immediately and a partial result is returned
// together with an *ExecutionError. The remainder is never resubmitted
// here: retrying only the tail changes the statistical signature of the
// sequence, so resumption is an explicit caller decision.
func (e *Engine) ExecuteSequential(ctx context.Context, in *intent.TransactionIntent, frs []*Fragment) (*intent.ExecutionResult, error) {
	result := &intent.ExecutionResult{
		StrategyUsed:     intent.StrategyFragmented,
		EstimatedSavings: big.NewInt(0),
		ProtectionCost:   big.NewInt(0),
	}

	for i, f := range frs {
		if i > 0 {
			if err := e.waitGap(ctx, in.Deadline); err != nil {
				result.Partial = true
				return result, &ExecutionError{Index: f.Index, Err: err}
			}
		}
		if in.Expired(time.Now()) {
			result.Partial = true
			return result, &ExecutionError{Index: f.Index, Err: intent.ErrDeadlineExceeded}
		}

		opts := router.Options{PreferRelay: e.preferRelay(i, f)}
		sig, err := e.submitter.Submit(ctx, encodeFragmentPayload(f, in), opts)
		if err != nil {
			f.Status = StatusFailed
			metrics.FragmentsTotal.WithLabelValues("error").Inc()
			result.Partial = true
			return result, &ExecutionError{Index: f.Index, Err: err}
		}
		f.Status = StatusSubmitted
		f.Signature = sig

		status, err := e.submitter.Confirm(ctx, sig, e.confirmTimeout)
		if status != router.Confirmed {
			f.Status = StatusFailed
			metrics.FragmentsTotal.WithLabelValues("error").Inc()
			result.Partial = true
			if err == nil {
				err = fmt.Errorf("confirmation %s", status)
			}
			return result, &ExecutionError{Index: f.Index, Err: err}
		}

		f.Status = StatusConfirmed
		metrics.FragmentsTotal.WithLabelValues("ok").Inc()
		result.Signatures = append(result.Signatures, sig)
		e.logger.Debug("fragment confirmed",
			"index", f.Index,
			"share", f.SizeShare.String(),
			"relay", opts.PreferRelay,
		)
	}

	return result, nil
}

// preferRelay applies the per-fragment routing rule: shares above the
// size threshold use the relay, and every third fragment is routed
// through the relay regardless of size so relay traffic does not
// correlate with fragment size.
func (e *Engine) preferRelay(i int, f *Fragment) bool {
	if i%3 == 0 {
		return true
	}
	return e.relaySizeThreshold != nil && f.SizeShare.Cmp(e.relaySizeThreshold) > 0
}

// waitGap blocks for a uniform 1–10 slot gap, polling the live slot
// height; the deadline is checked at every poll.
func (e *Engine) waitGap(ctx context.Context, deadline time.Time) error {
	e.mu.Lock()
	delay := uint64(minDelaySlots + e.rng.Intn(maxDelaySlots-minDelaySlots+1))
	e.mu.Unlock()

	// Anchor the gap at the current slot; tolerate transient query
	// failures without shortening the gap.
	var current uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return intent.ErrDeadlineExceeded
		}
		c, err := e.ledger.CurrentSlot(ctx)
		if err == nil {
			current = c
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ledgerclient.PollInterval):
		}
	}
	return ledgerclient.AwaitSlot(ctx, e.ledger, current+delay, deadline)
}

const payloadTagFragment = 0x03

// encodeFragmentPayload packs a fragment envelope: tag, index, share,
// and the intent's instruction payloads, all length-prefixed.
func encodeFragmentPayload(f *Fragment, in *intent.TransactionIntent) []byte {
	share := f.SizeShare.Bytes()
	out := make([]byte, 0, 1+4+4+len(share))
	out = append(out, payloadTagFragment)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], f.Index)
	out = append(out, buf[:]...)
	binary.BigEndian.PutUint32(buf[:], uint32(len(share)))
	out = append(out, buf[:]...)
	out = append(out, share...)

	binary.BigEndian.PutUint32(buf[:], uint32(len(in.Instructions)))
	out = append(out, buf[:]...)
	for _, ins := range in.Instructions {
		binary.BigEndian.PutUint32(buf[:], uint32(len(ins)))
		out = append(out, buf[:]...)
		out = append(out, ins...)
	}
	return out
}
