package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"papertrade/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "papertrade-cli",
	Short: "Operate a papertrade ledger",
	Long: `papertrade-cli talks to a running papertrade-server over HTTP
(submit, sell, account, portfolio, orders) and works directly on the
local ledger database for maintenance (sweep, archive).

Examples:
  papertrade-cli submit AAPL buy 10 --user alice
  papertrade-cli account --user alice
  papertrade-cli sweep --config config/papertrade.yaml
  papertrade-cli archive --date 2024-06-03`,
	SilenceUsage: true,
}

var (
	cfgPath   string
	serverURL string
	userID    string
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultCfg := "config/papertrade.yaml"
	if p := os.Getenv("PAPERTRADE_CONFIG"); p != "" {
		defaultCfg = p
	}
	defaultServer := "http://localhost:8080"
	if u := os.Getenv("PAPERTRADE_URL"); u != "" {
		defaultServer = u
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "path to the papertrade YAML config")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "papertrade-server base URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("PAPERTRADE_USER"), "user to act as")
}

// loadConfig reads the config file, falling back to defaults and the
// environment when it does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("no config at %s and defaults are invalid: %w", cfgPath, err)
		}
		return cfg, nil
	}
	return cfg, err
}
