// Package router submits prepared payloads through the best available
// channel and waits for confirmation.
//
// When a private relay is configured and preferred, it is tried first;
// relay failure is degraded service, not fatal: the router falls back
// to direct ledger submission. A circuit breaker stops the router from
// hammering a relay that keeps failing. Network errors are retried here,
// and only here: at most 3 attempts with multiplicative backoff.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shieldlabs/txshield/internal/circuitbreaker"
	"github.com/shieldlabs/txshield/internal/ledgerclient"
	"github.com/shieldlabs/txshield/internal/metrics"
	"github.com/shieldlabs/txshield/internal/retry"
)

const (
	relayChannel  = "relay"
	directChannel = "direct"

	// Network retry budget (router/ledger boundary only).
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Options controls how a single payload is submitted.
type Options struct {
	PreferRelay           bool
	PriorityFeeMultiplier float64
}

// ConfirmStatus is the outcome of waiting for a signature.
type ConfirmStatus int

const (
	ConfirmPending ConfirmStatus = iota
	Confirmed
	TimedOut // distinct from Failed: retryable at the caller's discretion
	Failed
)

// String returns the status name.
func (s ConfirmStatus) String() string {
	switch s {
	case ConfirmPending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Router submits payloads via relay or direct ledger submission.
// It is safe for concurrent use across intents; the relay connection is
// shared and the breaker serializes only its own bookkeeping.
type Router struct {
	ledger      ledgerclient.Client
	relay       Relay // optional; nil means direct-only
	breaker     *circuitbreaker.Breaker
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// New creates a router. relay may be nil.
func New(ledger ledgerclient.Client, relay Relay, logger *slog.Logger) *Router {
	return &Router{
		ledger:      ledger,
		relay:       relay,
		breaker:     circuitbreaker.New(3, 30*time.Second),
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
}

// WithRetry overrides the network retry budget.
func (r *Router) WithRetry(attempts int, base time.Duration) *Router {
	r.maxAttempts = attempts
	r.baseDelay = base
	return r
}

// Submit delivers a payload and returns its signature.
//
// The relay channel is attempted first when preferred, configured, and
// not tripped open. Relay failure falls back to direct submission.
func (r *Router) Submit(ctx context.Context, payload []byte, opts Options) (string, error) {
	if opts.PreferRelay && r.relay != nil && r.breaker.Allow(relayChannel) {
		sig, err := r.submitRelay(ctx, payload, opts)
		if err == nil {
			r.breaker.RecordSuccess(relayChannel)
			metrics.RouterSubmissionsTotal.WithLabelValues(relayChannel, "ok").Inc()
			return sig, nil
		}
		r.breaker.RecordFailure(relayChannel)
		metrics.RouterSubmissionsTotal.WithLabelValues(relayChannel, "error").Inc()
		metrics.RelayFallbacksTotal.Inc()
		r.logger.Warn("relay submission failed, falling back to direct", "error", err)
	}

	sig, err := r.submitDirect(ctx, payload)
	if err != nil {
		metrics.RouterSubmissionsTotal.WithLabelValues(directChannel, "error").Inc()
		return "", err
	}
	metrics.RouterSubmissionsTotal.WithLabelValues(directChannel, "ok").Inc()
	return sig, nil
}

func (r *Router) submitRelay(ctx context.Context, payload []byte, opts Options) (string, error) {
	var sig string
	err := retry.Do(ctx, r.maxAttempts, r.baseDelay, func() error {
		res, err := r.relay.SubmitBundle(ctx, [][]byte{payload}, opts.PriorityFeeMultiplier)
		if err != nil {
			if ledgerclient.IsNetwork(err) {
				return err
			}
			return retry.Permanent(err)
		}
		if len(res.Signatures) == 0 {
			return retry.Permanent(fmt.Errorf("relay returned no signatures for bundle %s", res.BundleID))
		}
		sig = res.Signatures[0]
		return nil
	})
	return sig, err
}

func (r *Router) submitDirect(ctx context.Context, payload []byte) (string, error) {
	var sig string
	err := retry.Do(ctx, r.maxAttempts, r.baseDelay, func() error {
		s, err := r.ledger.SubmitRaw(ctx, payload)
		if err != nil {
			if ledgerclient.IsNetwork(err) {
				return err
			}
			return retry.Permanent(err)
		}
		sig = s
		return nil
	})
	return sig, err
}

// Confirm polls the signature's status until it resolves or timeout
// elapses. TimedOut is reported as a status, not an error; Failed carries
// the terminal error.
func (r *Router) Confirm(ctx context.Context, sig string, timeout time.Duration) (ConfirmStatus, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}

		status, err := r.ledger.SignatureStatus(ctx, sig)
		if err == nil {
			switch status {
			case ledgerclient.StatusConfirmed:
				return Confirmed, nil
			case ledgerclient.StatusFailed:
				return Failed, fmt.Errorf("signature %s failed on ledger", sig)
			}
		}
		// Transient status-query errors are tolerated; keep polling
		// until the timeout decides.

		if time.Now().After(deadline) {
			return TimedOut, nil
		}

		select {
		case <-ctx.Done():
			return Failed, ctx.Err()
		case <-time.After(ledgerclient.PollInterval):
		}
	}
}
