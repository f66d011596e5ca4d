package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// Compile-time interface checks.
var _ PriceOracle = (*AlpacaBroker)(nil)
var _ MarketClock = (*AlpacaBroker)(nil)

// AlpacaOptions configures an AlpacaBroker.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API, used for the market clock
	DataURL   string // market-data API, used for quotes
	Feed      string // "iex" or "sip"

	// ClockTTL is how long a fetched market clock is reused.
	ClockTTL time.Duration
	// RateLimitPerMin caps REST calls; 0 disables limiting.
	RateLimitPerMin int
}

// AlpacaBroker implements PriceOracle and MarketClock using the Alpaca
// trading and market-data REST APIs. All US equities share one clock, so
// the clock is fetched once per ClockTTL regardless of symbol.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    string
	limiter *util.RateLimiter
	log     *slog.Logger

	clockTTL time.Duration
	clockMu  sync.Mutex
	clock    *alpaca.Clock
	clockAt  time.Time
	now      func() time.Time
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoints.
func NewAlpacaBroker(opts AlpacaOptions, log *slog.Logger) *AlpacaBroker {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		tradingOpts.BaseURL = opts.BaseURL
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		dataOpts.BaseURL = opts.DataURL
	}

	feed := opts.Feed
	if feed == "" {
		feed = marketdata.IEX
	}

	return &AlpacaBroker{
		trading:  alpaca.NewClient(tradingOpts),
		data:     marketdata.NewClient(dataOpts),
		feed:     feed,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin, 10),
		log:      log.With("component", "alpaca"),
		clockTTL: opts.ClockTTL,
		now:      time.Now,
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Quote returns the latest trade price for symbol.
func (b *AlpacaBroker) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}

	trade, err := callWithContext(ctx, func() (*marketdata.Trade, error) {
		return b.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: b.feed})
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%w: GetLatestTrade %s: %v", domain.ErrQuoteUnavailable, symbol, err)
	}
	if trade == nil || trade.Price <= 0 {
		return domain.Quote{}, fmt.Errorf("%w: no trades for %s", domain.ErrQuoteUnavailable, symbol)
	}

	return domain.Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(trade.Price).Round(domain.PriceScale),
		Exchange:  trade.Exchange,
		Currency:  "USD",
		Timestamp: trade.Timestamp,
	}, nil
}

// IsOpen reports whether the US equity market is open, using the Alpaca
// clock endpoint.
func (b *AlpacaBroker) IsOpen(ctx context.Context, _ string) (bool, error) {
	b.clockMu.Lock()
	defer b.clockMu.Unlock()

	now := b.now()
	if b.clock != nil && now.Sub(b.clockAt) < b.clockTTL {
		return b.clockOpenAt(now), nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return false, err
	}
	clock, err := callWithContext(ctx, b.trading.GetClock)
	if err != nil {
		return false, fmt.Errorf("%w: GetClock: %v", domain.ErrClockUnavailable, err)
	}
	b.clock = clock
	b.clockAt = now
	b.log.Debug("market clock refreshed", "isOpen", clock.IsOpen, "nextOpen", clock.NextOpen, "nextClose", clock.NextClose)
	return b.clockOpenAt(now), nil
}

// clockOpenAt extrapolates the cached clock to now so a TTL spanning the
// open or close bell does not report a stale state. Must be called with
// clockMu held.
func (b *AlpacaBroker) clockOpenAt(now time.Time) bool {
	c := b.clock
	if c.IsOpen {
		return now.Before(c.NextClose)
	}
	return !now.Before(c.NextOpen) && now.Before(c.NextClose)
}
