package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EventPruner deletes audit events older than a cutoff.
type EventPruner interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartAuditCleaner deletes audit events older than retention every interval
// until ctx is cancelled.
func StartAuditCleaner(
	ctx context.Context,
	pruner EventPruner,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).UTC()
				removed, err := pruner.DeleteEventsBefore(ctx, cutoff)
				if err != nil {
					log.Error("failed to clean audit events", zap.Error(err))
					continue
				}
				if removed > 0 {
					log.Info("cleaned audit events", zap.Int64("removed", removed))
				}
			}
		}
	}()
}
