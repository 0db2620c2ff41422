package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep deletes expired records every interval until ctx is cancelled. Each tick drains at most
// a few batches so a large backlog cannot monopolise the store.
func Sweep(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) error {
	if store == nil || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		total := 0
		for i := 0; i < 10; i++ {
			n, err := store.CleanupExpired(ctx, time.Now(), defaultCleanupLimit)
			total += n
			if err != nil {
				logger.Warn("idempotency sweep failed", zap.Error(err))
				break
			}
			if n < defaultCleanupLimit {
				break
			}
		}
		if total > 0 {
			logger.Debug("idempotency sweep", zap.Int("deleted", total))
		}
	}
}
