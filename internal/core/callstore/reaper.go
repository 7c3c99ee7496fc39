package callstore

import (
	"context"
	"time"

	"github.com/ClareAI/astra-telephony-gateway/pkg/logger"
	"go.uber.org/zap"
)

// StartReaper evicts inactive records older than retention on every tick until ctx is done.
// It only scans; live-call mutation paths never wait on it beyond a single record's lock.
func StartReaper(ctx context.Context, store Store, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		logger.Base().Info("call record reaper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Base().Info("call record reaper started",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("call record reaper stopped")
			return
		case now := <-ticker.C:
			n, err := store.Reap(ctx, now.Add(-retention))
			if err != nil && ctx.Err() == nil {
				logger.Base().Warn("call record reap failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Base().Info("reaped inactive call records", zap.Int("count", n))
			}
		}
	}
}
