package ledgerclient

import (
	"context"
	"time"

	"github.com/shieldlabs/txshield/internal/intent"
)

// PollInterval is how often suspension points re-check the chain.
// Slot-count delays are a correctness requirement, not a wall-clock
// approximation: block production rate varies, so we poll the actual
// slot height instead of sleeping a computed duration.
const PollInterval = time.Second

// AwaitSlot blocks until the ledger reaches target. The deadline is
// checked before every sleep; a zero deadline means none. Transient
// slot-query failures are tolerated and retried on the next tick.
func AwaitSlot(ctx context.Context, c Client, target uint64, deadline time.Time) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return intent.ErrDeadlineExceeded
		}

		slot, err := c.CurrentSlot(ctx)
		if err == nil && slot >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}
