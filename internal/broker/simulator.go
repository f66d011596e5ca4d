package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// Compile-time interface checks.
var _ PriceOracle = (*SimulatorBroker)(nil)
var _ MarketClock = (*SimulatorBroker)(nil)

// SimulatorBroker is an in-memory PriceOracle and MarketClock for paper
// trading without a market-data subscription. Prices and the open flag are
// set explicitly.
type SimulatorBroker struct {
	mu        sync.RWMutex
	quotes    map[string]domain.Quote
	open      bool
	closedFor map[string]bool
	quoteErr  map[string]error
	clockErr  error
}

// NewSimulatorBroker creates a SimulatorBroker with no prices and the market
// open.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		quotes:    make(map[string]domain.Quote),
		open:      true,
		closedFor: make(map[string]bool),
		quoteErr:  make(map[string]error),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPrice sets the quote returned for symbol.
func (b *SimulatorBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbol = domain.NormalizeSymbol(symbol)
	b.quotes[symbol] = domain.Quote{
		Symbol:    symbol,
		Price:     price,
		Exchange:  "SIM",
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}
	delete(b.quoteErr, symbol)
}

// SetQuoteError makes Quote fail for symbol until the next SetPrice.
func (b *SimulatorBroker) SetQuoteError(symbol string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteErr[domain.NormalizeSymbol(symbol)] = err
}

// SetOpen sets whether the simulated market is open for all symbols.
func (b *SimulatorBroker) SetOpen(open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
	b.closedFor = make(map[string]bool)
}

// SetClosedFor keeps symbol closed even while the market is open, to model
// venues with different hours.
func (b *SimulatorBroker) SetClosedFor(symbol string, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closedFor[domain.NormalizeSymbol(symbol)] = closed
}

// SetClockError makes IsOpen fail until cleared with nil.
func (b *SimulatorBroker) SetClockError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clockErr = err
}

// Quote returns the configured price for symbol.
func (b *SimulatorBroker) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	symbol = domain.NormalizeSymbol(symbol)
	if err := b.quoteErr[symbol]; err != nil {
		return domain.Quote{}, err
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: no simulated price for %s", domain.ErrQuoteUnavailable, symbol)
	}
	return q, nil
}

// IsOpen reports the simulated market state for symbol.
func (b *SimulatorBroker) IsOpen(ctx context.Context, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.clockErr != nil {
		return false, b.clockErr
	}
	return b.open && !b.closedFor[domain.NormalizeSymbol(symbol)], nil
}
