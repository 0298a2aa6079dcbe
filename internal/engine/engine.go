// Package engine hosts the protection orchestrator: the state machine
// that takes a validated intent through risk assessment, adaptive
// strategy selection, and execution of the chosen protection scheme.
//
// One orchestrator serves many intents concurrently; each intent runs
// as a single logical stream (fragments and commit/reveal phases are
// never parallelized within an intent, because their ordering is part
// of the protection guarantee).
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shieldlabs/txshield/internal/coalition"
	"github.com/shieldlabs/txshield/internal/commitreveal"
	"github.com/shieldlabs/txshield/internal/decoy"
	"github.com/shieldlabs/txshield/internal/fragment"
	"github.com/shieldlabs/txshield/internal/history"
	"github.com/shieldlabs/txshield/internal/idgen"
	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/monitor"
	"github.com/shieldlabs/txshield/internal/risk"
	"github.com/shieldlabs/txshield/internal/router"
	"github.com/shieldlabs/txshield/internal/traces"
)

const defaultDecoyCount = 3

// Submitter is the slice of the router the orchestrator itself uses
// for the Basic strategy's single guarded submission.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, opts router.Options) (string, error)
	Confirm(ctx context.Context, sig string, timeout time.Duration) (router.ConfirmStatus, error)
}

// ConditionSource is the slice of the adaptive monitor the orchestrator
// consumes: one sample and one recommendation per intent.
type ConditionSource interface {
	SampleNow(ctx context.Context) *monitor.Sample
	Recommend(amount *big.Int, tier risk.Tier, s *monitor.Sample) monitor.Recommendation
}

// Orchestrator owns the lifecycle of commitments and fragments for each
// intent it executes. No other component retains references after an
// intent completes or aborts.
type Orchestrator struct {
	submitter Submitter
	monitor   ConditionSource
	protocol  *commitreveal.Protocol
	fragments *fragment.Engine
	decoys    *decoy.Generator
	logger    *slog.Logger

	coordinator coalition.Coordinator // optional; nil means always solo
	store       history.Store         // optional audit trail

	decoyCount        int
	costPerSubmission *big.Int // protection overhead per extra submission
	confirmTimeout    time.Duration

	// compoundFull fragments the revealed payload after a successful
	// reveal in the Full strategy. The reveal itself publishes data
	// only; the fragments carry the economic effect.
	compoundFull bool
}

// New creates an orchestrator over the supplied components.
func New(
	submitter Submitter,
	mon ConditionSource,
	protocol *commitreveal.Protocol,
	fragments *fragment.Engine,
	decoys *decoy.Generator,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		submitter:         submitter,
		monitor:           mon,
		protocol:          protocol,
		fragments:         fragments,
		decoys:            decoys,
		logger:            logger,
		decoyCount:        defaultDecoyCount,
		costPerSubmission: big.NewInt(0),
		confirmTimeout:    60 * time.Second,
	}
}

// WithCoordinator attaches an advisory coalition coordinator.
func (o *Orchestrator) WithCoordinator(c coalition.Coordinator) *Orchestrator {
	o.coordinator = c
	return o
}

// WithHistory attaches an audit-trail store. Records are written
// best-effort; a store failure never fails the execution.
func (o *Orchestrator) WithHistory(s history.Store) *Orchestrator {
	o.store = s
	return o
}

// WithDecoyCount overrides the number of decoys submitted ahead of the
// real payload in the Full strategy.
func (o *Orchestrator) WithDecoyCount(n int) *Orchestrator {
	o.decoyCount = n
	return o
}

// WithCostPerSubmission sets the per-submission overhead (smallest
// units) used when estimating protection cost.
func (o *Orchestrator) WithCostPerSubmission(c *big.Int) *Orchestrator {
	o.costPerSubmission = c
	return o
}

// WithConfirmTimeout overrides the Basic-path confirmation timeout.
func (o *Orchestrator) WithConfirmTimeout(d time.Duration) *Orchestrator {
	o.confirmTimeout = d
	return o
}

// WithCompoundFull enables fragmenting the revealed payload after a
// successful reveal in the Full strategy.
func (o *Orchestrator) WithCompoundFull() *Orchestrator {
	o.compoundFull = true
	return o
}

// Execute drives a single intent to completion.
//
// The returned result is non-nil whenever any submission confirmed,
// even alongside a non-nil error; Partial is true iff execution aborted
// mid-sequence. A partial result is never silently treated as success,
// and the engine never retries a partially completed intent:
// resubmitting the remainder is an explicit caller decision.
func (o *Orchestrator) Execute(ctx context.Context, in *intent.TransactionIntent) (*intent.ExecutionResult, error) {
	if err := in.Validate(time.Now()); err != nil {
		return nil, err
	}

	// Every suspension point below, including confirmation polls inside
	// the router, inherits the intent's deadline through the context.
	ctx, cancel := context.WithDeadline(ctx, in.Deadline)
	defer cancel()

	tier := risk.Assess(in.EconomicAmount)
	sample := o.monitor.SampleNow(ctx)
	rec := o.monitor.Recommend(in.EconomicAmount, tier, sample)
	strategy := selectStrategy(tier, rec, sample.Stale)

	ctx, span := traces.StartSpan(ctx, "engine.execute",
		traces.Tier(tier.String()),
		traces.Strategy(strategy.String()),
		traces.Amount(in.EconomicAmount.String()),
	)
	defer span.End()

	if plan := o.joinCoalition(ctx, in, tier); plan != nil {
		rec.DelaySlots += uint32(plan.ExtraDelaySlots)
	}

	o.logger.Info("strategy selected",
		"tier", tier.String(),
		"strategy", strategy.String(),
		"fee_multiplier", rec.FeeMultiplier,
		"should_fragment", rec.ShouldFragment,
		"delay_slots", rec.DelaySlots,
		"stale_sample", sample.Stale,
	)

	started := time.Now()
	result, err := o.run(ctx, in, strategy, rec, sample)
	elapsed := time.Since(started)

	// A context expiry at any suspension point surfaces as the intent's
	// deadline error, retryable at the caller's discretion.
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, intent.ErrDeadlineExceeded) {
		err = fmt.Errorf("%w: %v", intent.ErrDeadlineExceeded, err)
	}

	outcome := "ok"
	switch {
	case err != nil && result != nil && result.Partial:
		outcome = "partial"
	case err != nil:
		outcome = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(strategy.String(), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(strategy.String()).Observe(elapsed.Seconds())
	span.SetAttributes(traces.Partial(result != nil && result.Partial))

	if result != nil {
		result.EstimatedSavings = o.estimateSavings(in, sample)
		result.ProtectionCost = o.protectionCost(result)
		o.record(in, tier, result, err)
	}
	return result, err
}

// selectStrategy applies the deterministic tier → strategy rule,
// refined by the single adaptive recommendation. A stale sample falls
// back to tier-only selection on the conservative side: Medium
// fragments rather than trusting a cached "don't bother", and Full
// takes the commit-reveal arm.
func selectStrategy(tier risk.Tier, rec monitor.Recommendation, stale bool) intent.ProtectionStrategy {
	switch tier {
	case risk.TierLow:
		return intent.StrategyBasic
	case risk.TierMedium:
		if stale || rec.ShouldFragment {
			return intent.StrategyFragmented
		}
		return intent.StrategyBasic
	case risk.TierHigh:
		// A fresh fragment recommendation overrides the default
		// commit-reveal arm: fragmentation disperses size as well as
		// timing, which the monitor only asks for under live pressure.
		if rec.ShouldFragment && !stale {
			return intent.StrategyFragmented
		}
		return intent.StrategyCommitReveal
	case risk.TierCritical:
		return intent.StrategyFull
	default:
		// Unreachable: Assess is total over the four tiers.
		return intent.StrategyFull
	}
}

func (o *Orchestrator) run(ctx context.Context, in *intent.TransactionIntent, strategy intent.ProtectionStrategy, rec monitor.Recommendation, sample *monitor.Sample) (*intent.ExecutionResult, error) {
	switch strategy {
	case intent.StrategyBasic:
		return o.runBasic(ctx, in, rec)
	case intent.StrategyFragmented:
		return o.runFragmented(ctx, in)
	case intent.StrategyCommitReveal:
		return o.runCommitReveal(ctx, in, rec, intent.StrategyCommitReveal)
	case intent.StrategyFull:
		return o.runFull(ctx, in, rec, sample)
	default:
		return nil, fmt.Errorf("engine: unknown strategy %d", strategy)
	}
}

// runBasic performs a single guarded submission: no fragmentation, no
// commitment, just the router's relay preference and retry discipline.
func (o *Orchestrator) runBasic(ctx context.Context, in *intent.TransactionIntent, rec monitor.Recommendation) (*intent.ExecutionResult, error) {
	opts := router.Options{PriorityFeeMultiplier: rec.FeeMultiplier}
	sig, err := o.submitter.Submit(ctx, encodeBasicPayload(in), opts)
	if err != nil {
		return nil, fmt.Errorf("engine: basic submission: %w", err)
	}

	status, err := o.submitter.Confirm(ctx, sig, o.confirmTimeout)
	if status != router.Confirmed {
		if err == nil {
			err = fmt.Errorf("confirmation %s", status)
		}
		return nil, fmt.Errorf("engine: basic confirmation: %w", err)
	}

	return &intent.ExecutionResult{
		Signatures:   []string{sig},
		StrategyUsed: intent.StrategyBasic,
	}, nil
}

func (o *Orchestrator) runFragmented(ctx context.Context, in *intent.TransactionIntent) (*intent.ExecutionResult, error) {
	frs, err := o.fragments.Fragment(in, 0)
	if err != nil {
		return nil, err
	}
	result, err := o.fragments.ExecuteSequential(ctx, in, frs)
	if result != nil {
		result.StrategyUsed = intent.StrategyFragmented
	}
	return result, err
}

// runCommitReveal drives commit → reveal-window wait → reveal. The
// commit signature is included in the result so a caller holding a
// partial result can locate the stranded commitment on chain.
func (o *Orchestrator) runCommitReveal(ctx context.Context, in *intent.TransactionIntent, rec monitor.Recommendation, used intent.ProtectionStrategy) (*intent.ExecutionResult, error) {
	opts := router.Options{PreferRelay: true, PriorityFeeMultiplier: rec.FeeMultiplier}

	c, err := o.protocol.Commit(ctx, in, rec.DelaySlots, opts)
	if err != nil {
		return nil, err
	}
	result := &intent.ExecutionResult{
		Signatures:   []string{c.CommitSignature},
		StrategyUsed: used,
	}

	if err := o.protocol.AwaitRevealWindow(ctx, c, in.Deadline); err != nil {
		result.Partial = true
		return result, err
	}

	sig, err := o.protocol.Reveal(ctx, c, in, opts)
	if err != nil {
		result.Partial = true
		return result, err
	}
	result.Signatures = append(result.Signatures, sig)
	return result, nil
}

// runFull submits decoys first, then protects the real payload with
// commit-reveal or fragmentation per the recommendation. Decoy failures
// never abort the intent.
func (o *Orchestrator) runFull(ctx context.Context, in *intent.TransactionIntent, rec monitor.Recommendation, sample *monitor.Sample) (*intent.ExecutionResult, error) {
	payloads := o.decoys.Generate(in.EconomicAmount, o.decoyCount)
	sent := o.decoys.SubmitAll(ctx, payloads, router.Options{PriorityFeeMultiplier: rec.FeeMultiplier})
	o.logger.Debug("decoys submitted", "requested", o.decoyCount, "sent", sent)

	fragmentArm := rec.ShouldFragment && !sample.Stale
	if fragmentArm {
		result, err := o.runFragmented(ctx, in)
		if result != nil {
			result.StrategyUsed = intent.StrategyFull
		}
		return result, err
	}

	result, err := o.runCommitReveal(ctx, in, rec, intent.StrategyFull)
	if err != nil || !o.compoundFull {
		return result, err
	}

	// Compound mode: the reveal published the data; the economic effect
	// now executes as fragments. The reveal is not counted as a
	// fragment; its signature simply precedes the fragment signatures.
	fragResult, err := o.runFragmented(ctx, in)
	if fragResult != nil {
		result.Signatures = append(result.Signatures, fragResult.Signatures...)
		result.Partial = fragResult.Partial
	}
	result.StrategyUsed = intent.StrategyFull
	return result, err
}

// joinCoalition asks the coordinator (if any) for an advisory plan.
// Coordinator errors are logged and ignored; protection never blocks
// on coalition formation.
func (o *Orchestrator) joinCoalition(ctx context.Context, in *intent.TransactionIntent, tier risk.Tier) *coalition.Plan {
	if o.coordinator == nil {
		return nil
	}
	plan, err := o.coordinator.RequestJoinProtection(ctx, coalition.IntentSummary{
		Tier:         tier.String(),
		AmountDigits: len(in.EconomicAmount.String()),
		Deadline:     in.Deadline,
	})
	if err != nil {
		o.logger.Debug("coalition coordinator unavailable, proceeding solo", "error", err)
		return nil
	}
	return plan
}

// estimateSavings approximates the MEV exposure the protection avoided:
// the slippage an observer could have extracted, weighted by the
// sampled risk score.
//
//	savings = amount × riskScore × maxSlippageBps / 10 000
func (o *Orchestrator) estimateSavings(in *intent.TransactionIntent, sample *monitor.Sample) *big.Int {
	scoreTenThousandths := int64(sample.RiskScore * 10_000)
	s := new(big.Int).Mul(in.EconomicAmount, big.NewInt(scoreTenThousandths))
	s.Mul(s, big.NewInt(int64(in.MaxSlippageBps)))
	return s.Div(s, big.NewInt(10_000*10_000))
}

// protectionCost charges the configured per-submission overhead for
// every submission beyond the single transaction an unprotected caller
// would have sent.
func (o *Orchestrator) protectionCost(result *intent.ExecutionResult) *big.Int {
	extra := len(result.Signatures) - 1
	if result.StrategyUsed == intent.StrategyFull {
		extra += o.decoyCount
	}
	if extra < 0 {
		extra = 0
	}
	return new(big.Int).Mul(o.costPerSubmission, big.NewInt(int64(extra)))
}

// record appends the terminal outcome to the audit trail.
func (o *Orchestrator) record(in *intent.TransactionIntent, tier risk.Tier, result *intent.ExecutionResult, execErr error) {
	if o.store == nil {
		return
	}

	rec := &history.Record{
		ID:               idgen.WithPrefix("exec_"),
		Amount:           in.EconomicAmount.String(),
		Tier:             tier.String(),
		Strategy:         result.StrategyUsed.String(),
		Partial:          result.Partial,
		Signatures:       result.Signatures,
		EstimatedSavings: result.EstimatedSavings.String(),
		ProtectionCost:   result.ProtectionCost.String(),
		CreatedAt:        time.Now().UTC(),
	}
	if execErr != nil {
		rec.FailureReason = execErr.Error()
	}

	// Detached context: the audit write must survive intent
	// cancellation, and its failure must not fail the execution.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Create(ctx, rec); err != nil {
		o.logger.Error("history write failed", "id", rec.ID, "error", err)
	}
}

// IsPartial reports whether err carries a partial result by policy:
// fragment aborts and deadline expiry terminate the sequence but leave
// confirmed signatures behind.
func IsPartial(err error) bool {
	var fe *fragment.ExecutionError
	return errors.As(err, &fe) || errors.Is(err, intent.ErrDeadlineExceeded)
}

const payloadTagBasic = 0x00

// encodeBasicPayload packs the intent's instructions into a single
// envelope for an unfragmented submission.
func encodeBasicPayload(in *intent.TransactionIntent) []byte {
	size := 1 + 4
	for _, ins := range in.Instructions {
		size += 4 + len(ins)
	}
	out := make([]byte, 0, size)
	out = append(out, payloadTagBasic)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(in.Instructions)))
	out = append(out, buf[:]...)
	for _, ins := range in.Instructions {
		binary.BigEndian.PutUint32(buf[:], uint32(len(ins)))
		out = append(out, buf[:]...)
		out = append(out, ins...)
	}
	return out
}
