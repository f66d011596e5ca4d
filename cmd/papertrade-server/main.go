package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"papertrade/internal/api"
	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/papertrade.yaml"
	if p := os.Getenv("PAPERTRADE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("papertrade-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	balance, err := cfg.Trading.Balance()
	if err != nil {
		return err
	}
	maxNotional, err := cfg.Trading.NotionalLimit()
	if err != nil {
		return err
	}

	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	hub := events.NewHub()
	var pub events.Publisher = hub
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kp.Close()
		pub = events.Multi{hub, kp}
		logger.Info("publishing order events to kafka", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	// Background workers stop before the publishers and the store close.
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	market := broker.NewMarket(cfg, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := market.Run(ctx); err != nil {
			logger.Warn("trade stream stopped, quotes fall back to REST", "error", err)
		}
	}()

	opts := engine.Options{
		StartingBalance: balance,
		QuoteTimeout:    cfg.Trading.QuoteTimeout,
		ClockTimeout:    cfg.Trading.ClockTimeout,
	}
	risk := engine.NewRiskManager(cfg.Trading.MaxOrderQuantity, maxNotional)
	eng := engine.NewEngine(ledger, market.Oracle, market.Clock, risk, pub, opts, logger)
	sweeper := engine.NewSweeper(eng, logger)

	srv := api.NewServer(cfg, eng, sweeper, hub, logger)
	sched := engine.NewScheduler(sweeper, cfg.Trading.SweepInterval, srv.ReportSweep, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			logger.Error("sweep scheduler stopped", "error", err)
		}
	}()

	logger.Info("papertrade-server starting",
		"paperMode", cfg.Trading.PaperMode,
		"clock", cfg.Trading.Clock,
		"market", cfg.Trading.Market,
		"startingBalance", balance.String(),
	)
	return srv.ListenAndServe(ctx)
}
