package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"papertrade/internal/domain"
)

// Scheduler runs the sweeper on a fixed interval. Ticks that arrive while a
// pass is still running are skipped, so passes never overlap.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	onResult func(SweepStats, error)
	log      *slog.Logger
}

// NewScheduler creates a Scheduler. onResult, if non-nil, is called after
// every pass; the server uses it to drive the health status.
func NewScheduler(s *Sweeper, interval time.Duration, onResult func(SweepStats, error), log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		sweeper:  s,
		interval: interval,
		onResult: onResult,
		log:      log.With("component", "scheduler"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is
// cancelled.
func (sc *Scheduler) Run(ctx context.Context) error {
	sc.log.Info("sweep scheduler started", "interval", sc.interval)
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			sc.log.Info("sweep scheduler stopped")
			return nil
		case <-ticker.C:
			sc.tick(ctx)
		}
	}
}

func (sc *Scheduler) tick(ctx context.Context) {
	stats, err := sc.sweeper.SweepStats(ctx)
	if errors.Is(err, domain.ErrSweepInProgress) {
		sc.log.Debug("previous sweep still running, skipping tick")
		return
	}
	if ctx.Err() != nil {
		return
	}
	if sc.onResult != nil {
		sc.onResult(stats, err)
	}
}
