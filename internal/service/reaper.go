package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

// Reaper periodically settles pending attempts whose deadline has passed.
// Expiry is already enforced lazily on every read, so the reaper only keeps
// the store tidy for attempts nobody asks about again; it is off by default.
type Reaper struct {
	attempts store.AttemptStore
	interval time.Duration
}

func NewReaper(cfg *config.Config, attempts store.AttemptStore) *Reaper {
	return &Reaper{
		attempts: attempts,
		interval: cfg.Verification.ReaperInterval,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	util.Info("Expiry reaper started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			util.Info("Expiry reaper stopped")
			return
		case <-ticker.C:
			n, err := r.attempts.ExpirePending(ctx, time.Now())
			if err != nil {
				util.Error("Expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				util.Info("Expiry sweep settled attempts", zap.Int("count", n))
			}
		}
	}
}
