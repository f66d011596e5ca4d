package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// TradeStreamer keeps a PriceCache warm from the Alpaca real-time trade
// feed. Symbols are subscribed up front and lazily on cache misses.
type TradeStreamer struct {
	apiKey    string
	apiSecret string
	feed      string
	cache     *PriceCache
	log       *slog.Logger

	mu         sync.Mutex
	client     *stream.StocksClient
	subscribed map[string]bool
	initial    []string
}

// NewTradeStreamer creates a TradeStreamer that writes into cache. Initial
// symbols are subscribed once Run connects.
func NewTradeStreamer(apiKey, apiSecret, feed string, cache *PriceCache, symbols []string, log *slog.Logger) *TradeStreamer {
	if feed == "" {
		feed = marketdata.IEX
	}
	initial := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = domain.NormalizeSymbol(s); s != "" {
			initial = append(initial, s)
		}
	}
	ts := &TradeStreamer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		feed:       feed,
		cache:      cache,
		log:        log.With("component", "trade-stream"),
		subscribed: make(map[string]bool),
		initial:    initial,
	}
	cache.OnMiss(ts.Watch)
	return ts
}

// Name returns the streamer identifier.
func (s *TradeStreamer) Name() string { return "us-trade-stream" }

// Run connects to the feed and blocks until ctx is cancelled or the
// connection terminates.
func (s *TradeStreamer) Run(ctx context.Context) error {
	opts := []stream.StockOption{
		stream.WithCredentials(s.apiKey, s.apiSecret),
	}
	if len(s.initial) > 0 {
		opts = append(opts, stream.WithTrades(s.handle, s.initial...))
	}
	client := stream.NewStocksClient(s.feed, opts...)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting trade stream: %w", err)
	}

	s.mu.Lock()
	s.client = client
	for _, sym := range s.initial {
		s.subscribed[sym] = true
	}
	s.mu.Unlock()
	s.log.Info("trade stream connected", "feed", s.feed, "symbols", len(s.initial))

	select {
	case <-ctx.Done():
		return nil
	case err := <-client.Terminated():
		if err != nil {
			return fmt.Errorf("trade stream terminated: %w", err)
		}
		return nil
	}
}

// Watch subscribes to trades for symbol if the stream is connected and not
// already subscribed. It never blocks a quote lookup on the network.
func (s *TradeStreamer) Watch(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)
	s.mu.Lock()
	client := s.client
	if client == nil || s.subscribed[symbol] {
		s.mu.Unlock()
		return
	}
	s.subscribed[symbol] = true
	s.mu.Unlock()

	go func() {
		if err := client.SubscribeToTrades(s.handle, symbol); err != nil {
			s.log.Warn("subscribe failed", "symbol", symbol, "error", err)
			s.mu.Lock()
			delete(s.subscribed, symbol)
			s.mu.Unlock()
			return
		}
		s.log.Debug("subscribed to trades", "symbol", symbol)
	}()
}

func (s *TradeStreamer) handle(t stream.Trade) {
	s.cache.Update(domain.Quote{
		Symbol:    t.Symbol,
		Price:     decimal.NewFromFloat(t.Price).Round(domain.PriceScale),
		Exchange:  t.Exchange,
		Currency:  "USD",
		Timestamp: t.Timestamp,
	})
}
