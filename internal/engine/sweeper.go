package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"papertrade/internal/broker"
	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// errNotPending aborts a sweep transaction for an order that left PENDING
// after it was listed.
var errNotPending = errors.New("order no longer pending")

// SweepStats describes one sweep pass.
type SweepStats struct {
	Pending   int // orders listed at the start of the pass
	Filled    int
	Rejected  int
	Deferred  int // market still closed
	Failed    int // clock, quote, or ledger failure; left PENDING
	StartedAt time.Time
	Duration  time.Duration
}

// Processed returns the number of orders that left PENDING in the pass.
func (s SweepStats) Processed() int {
	return s.Filled + s.Rejected
}

// Sweeper drives PENDING orders through the execution routine once their
// market opens. Runs never overlap.
type Sweeper struct {
	engine  *Engine
	running sync.Mutex
	log     *slog.Logger

	mu   sync.Mutex
	last SweepStats
	err  error
}

// NewSweeper creates a Sweeper that executes through e.
func NewSweeper(e *Engine, log *slog.Logger) *Sweeper {
	return &Sweeper{
		engine: e,
		log:    log.With("component", "sweeper"),
	}
}

// Sweep makes one pass over all PENDING orders and returns how many were
// filled or rejected. A failure on one order is logged and the pass moves
// on. It returns domain.ErrSweepInProgress if another pass is running.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stats, err := s.SweepStats(ctx)
	return stats.Processed(), err
}

// SweepStats is Sweep with per-outcome counts.
func (s *Sweeper) SweepStats(ctx context.Context) (SweepStats, error) {
	if !s.running.TryLock() {
		return SweepStats{}, domain.ErrSweepInProgress
	}
	defer s.running.Unlock()

	stats, err := s.sweep(ctx)

	s.mu.Lock()
	s.last, s.err = stats, err
	s.mu.Unlock()

	if err != nil {
		s.log.Error("sweep failed", "error", err)
		return stats, err
	}
	s.log.Info("sweep complete",
		"pending", stats.Pending,
		"processed", stats.Processed(),
		"filled", stats.Filled,
		"rejected", stats.Rejected,
		"deferred", stats.Deferred,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)
	return stats, nil
}

// Last returns the stats and outcome of the most recent pass.
func (s *Sweeper) Last() (SweepStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.err
}

func (s *Sweeper) sweep(ctx context.Context) (stats SweepStats, err error) {
	e := s.engine
	stats.StartedAt = e.now().UTC()
	defer func() { stats.Duration = e.now().Sub(stats.StartedAt) }()

	pending, err := e.store.ListOrdersByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		return stats, fmt.Errorf("listing pending orders: %w", err)
	}
	stats.Pending = len(pending)

	// One clock lookup per symbol per pass.
	openBySymbol := make(map[string]bool)
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		open, seen := openBySymbol[o.Symbol]
		if !seen {
			open, err = broker.IsOpenWithTimeout(ctx, e.clock, o.Symbol, e.opts.ClockTimeout)
			if err != nil {
				s.log.Warn("market clock unavailable, skipping", "orderID", o.ID, "symbol", o.Symbol, "error", err)
				stats.Failed++
				continue
			}
			openBySymbol[o.Symbol] = open
		}
		if !open {
			stats.Deferred++
			continue
		}

		done, err := s.process(ctx, o)
		switch {
		case errors.Is(err, errNotPending):
			// Another path resolved it between listing and locking.
		case err != nil:
			s.log.Warn("pending order failed, will retry next sweep", "orderID", o.ID, "symbol", o.Symbol, "error", err)
			stats.Failed++
		case done.Status == domain.OrderStatusFilled:
			stats.Filled++
		case done.Status == domain.OrderStatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

// process executes one pending order at a fresh quote in its own
// transaction.
func (s *Sweeper) process(ctx context.Context, pending domain.Order) (domain.Order, error) {
	e := s.engine
	q, err := broker.QuoteWithTimeout(ctx, e.oracle, pending.Symbol, e.opts.QuoteTimeout)
	if err != nil {
		return domain.Order{}, err
	}

	unlock := e.locks.lock(pending.AccountID)
	var (
		order  domain.Order
		closed []domain.Order
	)
	err = e.store.Update(ctx, pending.AccountID, func(tx store.LedgerTx) error {
		cur, err := tx.Order(ctx, pending.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.OrderStatusPending {
			return errNotPending
		}
		lots, err := execute(ctx, tx, cur, q)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return err
		}
		order, closed = *cur, lots
		return nil
	})
	unlock()
	if err != nil {
		return domain.Order{}, err
	}

	e.logOrder("pending order executed", order)
	e.publish(ctx, order, closed)
	return order, nil
}
