package intent

import "errors"

// Error taxonomy shared across the engine. Only network failures are ever
// retried internally (at the router/ledger boundary); everything else
// propagates to the caller immediately.
var (
	// ErrInvalidIntent marks a malformed intent, rejected before any
	// network call with no side effects.
	ErrInvalidIntent = errors.New("intent: invalid")

	// ErrCommitmentSubmission is fatal: the commitment phase could not be
	// delivered after the router's retry budget. The whole intent aborts.
	ErrCommitmentSubmission = errors.New("intent: commitment submission failed")

	// ErrRevealVerification is fatal and security-relevant: the ledger
	// rejected a reveal because the recomputed hash did not match the
	// stored commitment. It must never be retried with altered data.
	ErrRevealVerification = errors.New("intent: reveal verification failed")

	// ErrDeadlineExceeded aborts the remainder of an execution exactly as
	// a fragment failure would; the partial result is returned alongside.
	ErrDeadlineExceeded = errors.New("intent: deadline exceeded")
)
