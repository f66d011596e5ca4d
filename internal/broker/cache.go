package broker

import (
	"context"
	"sync"
	"time"

	"papertrade/internal/domain"
)

var _ PriceOracle = (*PriceCache)(nil)

// PriceCache serves recent quotes from memory and falls back to another
// oracle when a symbol has no quote younger than maxAge. Streamed trades
// keep entries fresh through Update.
type PriceCache struct {
	mu       sync.RWMutex
	quotes   map[string]domain.Quote
	maxAge   time.Duration
	fallback PriceOracle
	onMiss   func(symbol string)
	now      func() time.Time
}

// NewPriceCache creates a PriceCache. fallback may be nil, in which case a
// miss is reported as domain.ErrQuoteUnavailable.
func NewPriceCache(fallback PriceOracle, maxAge time.Duration) *PriceCache {
	return &PriceCache{
		quotes:   make(map[string]domain.Quote),
		maxAge:   maxAge,
		fallback: fallback,
		now:      time.Now,
	}
}

// OnMiss registers fn to be called with each symbol that was not served
// from the cache. The trade streamer uses it to subscribe lazily.
func (c *PriceCache) OnMiss(fn func(symbol string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMiss = fn
}

// Update stores q if it is newer than the cached quote for its symbol.
func (c *PriceCache) Update(q domain.Quote) {
	if !q.Price.IsPositive() {
		return
	}
	q.Symbol = domain.NormalizeSymbol(q.Symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.quotes[q.Symbol]; ok && cur.Timestamp.After(q.Timestamp) {
		return
	}
	c.quotes[q.Symbol] = q
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Quote returns the cached quote for symbol when fresh, otherwise asks the
// fallback oracle and caches its answer.
func (c *PriceCache) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)

	c.mu.RLock()
	q, ok := c.quotes[symbol]
	onMiss := c.onMiss
	c.mu.RUnlock()
	if ok && c.now().Sub(q.Timestamp) <= c.maxAge {
		return q, nil
	}

	if onMiss != nil {
		onMiss(symbol)
	}
	if c.fallback == nil {
		return domain.Quote{}, asUnavailable(domain.ErrQuoteUnavailable, symbol, errNoCachedQuote)
	}
	q, err := c.fallback.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	c.Update(q)
	return q, nil
}
