package purchase

import (
	"context"
	"errors"
	"time"

	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/types"
)

const DefaultPollInterval = 2 * time.Second

// Lookup resolves a provisional payment reference. *facilitatorclient.FacilitatorClient
// satisfies it.
type Lookup interface {
	Status(ctx context.Context, reference string) (*types.SettlementStatus, error)
}

// AwaitFinalization polls lookup every interval until reference is confirmed
// or failed, or ctx ends. A reference the facilitator does not know yet is
// polled again.
func AwaitFinalization(ctx context.Context, lookup Lookup, reference string, interval time.Duration) (*types.SettlementStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := lookup.Status(ctx, reference)
		switch {
		case err == nil && status.Status != types.FinalizationPending:
			return status, nil
		case err != nil && !errors.Is(err, facilitatorclient.ErrSettlementNotFound):
			return nil, err
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
