// Package broker defines the market collaborators consumed by the order
// engine, the price oracle and the market clock, and provides Alpaca,
// simulator, and cached implementations of them.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrade/internal/domain"
)

// PriceOracle returns a current tradable price for a symbol.
type PriceOracle interface {
	// Quote returns the latest price for symbol. Failures wrap
	// domain.ErrQuoteUnavailable.
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// MarketClock reports whether the venue trading a symbol is open.
type MarketClock interface {
	// IsOpen reports whether symbol can trade right now.
	IsOpen(ctx context.Context, symbol string) (bool, error)
}

// QuoteWithTimeout calls oracle.Quote bounded by timeout. A timeout or any
// other failure is reported as domain.ErrQuoteUnavailable.
func QuoteWithTimeout(ctx context.Context, oracle PriceOracle, symbol string, timeout time.Duration) (domain.Quote, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q, err := oracle.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, asUnavailable(domain.ErrQuoteUnavailable, symbol, err)
	}
	if !q.Price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: %s: non-positive price %s", domain.ErrQuoteUnavailable, symbol, q.Price)
	}
	return q, nil
}

// IsOpenWithTimeout calls clock.IsOpen bounded by timeout. Failures are
// reported as domain.ErrClockUnavailable.
func IsOpenWithTimeout(ctx context.Context, clock MarketClock, symbol string, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	open, err := clock.IsOpen(ctx, symbol)
	if err != nil {
		return false, asUnavailable(domain.ErrClockUnavailable, symbol, err)
	}
	return open, nil
}

var errNoCachedQuote = errors.New("no cached quote")

func asUnavailable(sentinel error, symbol string, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", sentinel, symbol, err)
}

// callWithContext runs fn in a goroutine so that SDK calls without context
// support still return promptly when ctx is done.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
