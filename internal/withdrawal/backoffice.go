package withdrawal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BackOffice represents the cash desk that pays a withdrawal out.
type BackOffice interface {
	Process(ctx context.Context, payout Payout) (Decision, error)
}

// Payout is what the back office needs to release cash.
type Payout struct {
	ReferenceCode string
	Address       string
	AmountMinor   int64
	Method        Method
	BranchAddress string
}

// Decision is the back office acknowledgement.
type Decision struct {
	Reference string
}

// DelayedBackOffice approves every payout after a fixed delay.
type DelayedBackOffice struct {
	Delay time.Duration
}

// Process waits for the configured delay and approves with a synthetic reference.
func (b DelayedBackOffice) Process(ctx context.Context, _ Payout) (Decision, error) {
	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Decision{Reference: uuid.NewString()}, nil
}
