package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"papertrade/internal/broker"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one pending-order sweep against the local ledger",
	Long: `Sweep fills every PENDING order whose market is open at the current
price, exactly as the server's scheduler does. Do not run it while a
server with its own scheduler is using the same database.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var pub events.Publisher = events.Nop{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kp.Close()
		pub = kp
	}

	balance, err := cfg.Trading.Balance()
	if err != nil {
		return err
	}
	market := broker.NewMarket(cfg, logger)
	opts := engine.Options{
		StartingBalance: balance,
		QuoteTimeout:    cfg.Trading.QuoteTimeout,
		ClockTimeout:    cfg.Trading.ClockTimeout,
	}
	eng := engine.NewEngine(ledger, market.Oracle, market.Clock, nil, pub, opts, logger)

	stats, err := engine.NewSweeper(eng, logger).SweepStats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "swept %d pending: %d filled, %d rejected, %d deferred, %d failed in %s\n",
		stats.Pending, stats.Filled, stats.Rejected, stats.Deferred, stats.Failed,
		stats.Duration.Round(time.Millisecond))
	return nil
}
