package cleanup

import (
	"context"
	"time"

	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	"github.com/AlibekovAA/refresh-guard/internal/observability/metrics"
)

type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// StartCleanup purges expired refresh tokens and consumed markers every interval
// until ctx is cancelled.
func StartCleanup(ctx context.Context, store ExpiredDeleter, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = constants.DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RunOnce(ctx, store, log)
		}
	}
}

func RunOnce(ctx context.Context, store ExpiredDeleter, log *logger.Logger) int64 {
	deleted, err := store.DeleteExpired(ctx)
	if err != nil {
		log.WithFields(ctx, logger.Fields{
			"action": "refresh_token_cleanup_failed",
		}).Errorf("refresh token cleanup failed: %v", err)
		return 0
	}
	if deleted > 0 {
		metrics.RefreshTokensCleanupDeleted.Add(float64(deleted))
		log.WithFields(ctx, logger.Fields{
			"deleted": deleted,
			"action":  "refresh_token_cleanup",
		}).Infof("refresh token cleanup: deleted %d expired tokens", deleted)
	}
	return deleted
}
