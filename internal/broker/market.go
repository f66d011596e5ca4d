package broker

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// Market bundles the price oracle and market clock selected by config.
type Market struct {
	Oracle PriceOracle
	Clock  MarketClock
	// Simulator is set when paper mode or the simulator clock is in use.
	Simulator *SimulatorBroker

	streamer *TradeStreamer
}

// NewMarket builds the market collaborators described by cfg. Outside paper
// mode quotes come from Alpaca through a PriceCache fed by a trade stream,
// which starts when Run is called.
func NewMarket(cfg *config.Config, log *slog.Logger) *Market {
	m := &Market{}
	var alp *AlpacaBroker
	newAlpaca := func() *AlpacaBroker {
		return NewAlpacaBroker(AlpacaOptions{
			APIKey:          cfg.Alpaca.APIKey,
			APISecret:       cfg.Alpaca.APISecret,
			BaseURL:         cfg.Alpaca.BaseURL,
			DataURL:         cfg.Alpaca.DataURL,
			Feed:            cfg.Alpaca.Feed,
			ClockTTL:        cfg.Trading.ClockTTL,
			RateLimitPerMin: cfg.Trading.RateLimitPerMin,
		}, log)
	}

	if cfg.Trading.PaperMode {
		m.Simulator = NewSimulatorBroker()
		for sym, p := range cfg.Trading.PaperPrices {
			if d, err := decimal.NewFromString(p); err == nil {
				m.Simulator.SetPrice(sym, d)
			}
		}
		m.Oracle = m.Simulator
	} else {
		alp = newAlpaca()
		cache := NewPriceCache(alp, cfg.Trading.PriceMaxAge)
		m.streamer = NewTradeStreamer(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.Feed, cache, cfg.Trading.StreamSymbols, log)
		m.Oracle = cache
	}

	switch cfg.Trading.Clock {
	case config.ClockAlpaca:
		if alp == nil {
			alp = newAlpaca()
		}
		m.Clock = alp
	case config.ClockSimulator:
		if m.Simulator == nil {
			m.Simulator = NewSimulatorBroker()
		}
		m.Clock = m.Simulator
	default:
		m.Clock = util.NewTradingCalendar(domain.Market(cfg.Trading.Market))
	}
	return m
}

// Run streams live trades into the price cache until ctx is cancelled. It
// returns immediately when no stream is configured.
func (m *Market) Run(ctx context.Context) error {
	if m.streamer == nil {
		return nil
	}
	return m.streamer.Run(ctx)
}
