package commitreveal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shieldlabs/txshield/internal/intent"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/router"
)

// Submitter is the slice of the router the protocol needs.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, opts router.Options) (string, error)
	Confirm(ctx context.Context, sig string, timeout time.Duration) (router.ConfirmStatus, error)
}

// Protocol drives commit → wait → reveal for a single intent at a time.
// The protocol itself is stateless beyond the Commitment it hands back;
// one Protocol value serves many intents concurrently.
type Protocol struct {
	submitter      Submitter
	ledger         ledgerclient.Client
	logger         *slog.Logger
	confirmTimeout time.Duration
}

// New creates a commit-reveal protocol instance.
func New(submitter Submitter, ledger ledgerclient.Client, logger *slog.Logger) *Protocol {
	return &Protocol{
		submitter:      submitter,
		ledger:         ledger,
		logger:         logger,
		confirmTimeout: 60 * time.Second,
	}
}

// WithConfirmTimeout overrides the per-phase confirmation timeout.
func (p *Protocol) WithConfirmTimeout(d time.Duration) *Protocol {
	p.confirmTimeout = d
	return p
}

// Commit publishes the commitment hash and records the slot it landed at.
// An undeliverable or unconfirmed commitment is fatal for the intent:
// the error wraps intent.ErrCommitmentSubmission.
func (p *Protocol) Commit(ctx context.Context, in *intent.TransactionIntent, revealAfter uint32, opts router.Options) (*Commitment, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	c := &Commitment{
		Hash:             ComputeHash(in.Instructions, in.EconomicAmount, secret),
		RevealAfterSlots: revealAfter,
		secret:           secret,
	}

	sig, err := p.submitter.Submit(ctx, encodeCommitPayload(c.Hash), opts)
	if err != nil {
		metrics.CommitRevealPhasesTotal.WithLabelValues("commit", "error").Inc()
		return nil, fmt.Errorf("%w: %v", intent.ErrCommitmentSubmission, err)
	}

	slot, err := p.ledger.CurrentSlot(ctx)
	if err != nil {
		metrics.CommitRevealPhasesTotal.WithLabelValues("commit", "error").Inc()
		return nil, fmt.Errorf("%w: reading commit slot: %v", intent.ErrCommitmentSubmission, err)
	}
	c.CreatedAtSlot = slot

	status, err := p.submitter.Confirm(ctx, sig, p.confirmTimeout)
	if err != nil || status != router.Confirmed {
		metrics.CommitRevealPhasesTotal.WithLabelValues("commit", "error").Inc()
		return nil, fmt.Errorf("%w: commitment not confirmed (status %s): %v", intent.ErrCommitmentSubmission, status, err)
	}

	c.CommitSignature = sig

	metrics.CommitRevealPhasesTotal.WithLabelValues("commit", "ok").Inc()
	p.logger.Info("commitment published",
		"slot", c.CreatedAtSlot,
		"reveal_after_slots", c.RevealAfterSlots,
		"signature", sig,
	)
	return c, nil
}

// AwaitRevealWindow blocks until the chain reaches the commitment's
// reveal slot. The wait polls the live slot height; it never substitutes
// a fixed sleep, because block production rate varies.
func (p *Protocol) AwaitRevealWindow(ctx context.Context, c *Commitment, deadline time.Time) error {
	return ledgerclient.AwaitSlot(ctx, p.ledger, c.RevealTargetSlot(), deadline)
}

// Reveal publishes the real instructions bound to the commitment and
// waits for confirmation. The commitment is consumed whether or not the
// reveal succeeds; a hash-mismatch rejection is fatal and must never be
// retried with altered data.
func (p *Protocol) Reveal(ctx context.Context, c *Commitment, in *intent.TransactionIntent, opts router.Options) (string, error) {
	if c.consumed {
		return "", fmt.Errorf("commitreveal: commitment already consumed")
	}
	c.consumed = true

	// Local recomputation catches bugs or tampering before submission.
	if err := c.verifyAgainst(in); err != nil {
		metrics.CommitRevealPhasesTotal.WithLabelValues("reveal", "verification_error").Inc()
		return "", err
	}

	sig, err := p.submitter.Submit(ctx, encodeRevealPayload(c.Hash, c.secret, in.Instructions), opts)
	if err != nil {
		metrics.CommitRevealPhasesTotal.WithLabelValues("reveal", "error").Inc()
		return "", fmt.Errorf("commitreveal: reveal submission: %w", err)
	}

	status, err := p.submitter.Confirm(ctx, sig, p.confirmTimeout)
	switch {
	case status == router.Confirmed:
		metrics.CommitRevealPhasesTotal.WithLabelValues("reveal", "ok").Inc()
		p.logger.Info("reveal confirmed", "signature", sig)
		return sig, nil
	case status == router.Failed:
		// The on-chain program recomputed the hash and rejected the
		// reveal. Security-relevant; surfaced verbatim.
		metrics.CommitRevealPhasesTotal.WithLabelValues("reveal", "verification_error").Inc()
		return "", fmt.Errorf("%w: ledger rejected reveal for signature %s: %v", intent.ErrRevealVerification, sig, err)
	default:
		metrics.CommitRevealPhasesTotal.WithLabelValues("reveal", "error").Inc()
		return "", fmt.Errorf("commitreveal: reveal not confirmed (status %s): %w", status, errOrTimeout(err))
	}
}

func errOrTimeout(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("confirmation timed out")
}
