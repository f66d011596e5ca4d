package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the papertrade services.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Trading Trading `yaml:"trading"`
	Events  Events  `yaml:"events"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Clock sources for Trading.Clock.
const (
	ClockAlpaca    = "alpaca"
	ClockCalendar  = "calendar"
	ClockSimulator = "simulator"
)

// Trading defines account, execution, and sweep parameters.
type Trading struct {
	// StartingBalance is a decimal string so no precision is lost in YAML.
	StartingBalance string        `yaml:"starting_balance"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	QuoteTimeout    time.Duration `yaml:"quote_timeout"`
	ClockTimeout    time.Duration `yaml:"clock_timeout"`
	PriceMaxAge     time.Duration `yaml:"price_max_age"`
	ClockTTL        time.Duration `yaml:"clock_ttl"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`

	// PaperMode replaces Alpaca quotes with the in-memory simulator, seeded
	// from PaperPrices.
	PaperMode   bool              `yaml:"paper_mode"`
	PaperPrices map[string]string `yaml:"paper_prices"`
	Clock       string            `yaml:"clock"`
	Market      string            `yaml:"market"`

	MaxOrderQuantity int64    `yaml:"max_order_quantity"`
	MaxOrderNotional string   `yaml:"max_order_notional"`
	StreamSymbols    []string `yaml:"stream_symbols"`
}

// Events configures where order events are published.
type Events struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	SSEBuffer    int      `yaml:"sse_buffer"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills in
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built from defaults and the environment
// only, for tools run without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	if _, err := c.Trading.Balance(); err != nil {
		return err
	}
	if _, err := c.Trading.NotionalLimit(); err != nil {
		return err
	}
	for sym, p := range c.Trading.PaperPrices {
		d, err := decimal.NewFromString(p)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("trading.paper_prices.%s: invalid price %q", sym, p)
		}
	}
	switch c.Trading.Clock {
	case ClockAlpaca, ClockCalendar, ClockSimulator:
	default:
		return fmt.Errorf("trading.clock: unknown source %q", c.Trading.Clock)
	}
	switch c.Trading.Market {
	case "us", "cn":
	default:
		return fmt.Errorf("trading.market: unknown market %q", c.Trading.Market)
	}
	if !c.Trading.PaperMode && c.Alpaca.APIKey == "" {
		return fmt.Errorf("alpaca.api_key is required unless trading.paper_mode is set")
	}
	return nil
}

// Balance returns StartingBalance as a decimal.
func (t Trading) Balance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(t.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trading.starting_balance: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("trading.starting_balance: must be positive, got %s", d)
	}
	return d, nil
}

// NotionalLimit returns MaxOrderNotional as a decimal; zero means no limit.
func (t Trading) NotionalLimit() (decimal.Decimal, error) {
	if t.MaxOrderNotional == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(t.MaxOrderNotional)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trading.max_order_notional: %w", err)
	}
	return d, nil
}

// HTTPAddr returns the host:port the HTTP server listens on.
func (s Server) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the host:port the gRPC health server listens on.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("PAPERTRADE_PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/papertrade.db"
	}
	if cfg.Storage.ArchiveDir == "" {
		cfg.Storage.ArchiveDir = "data/archive"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	t := &cfg.Trading
	if t.StartingBalance == "" {
		t.StartingBalance = "100000"
	}
	if t.SweepInterval == 0 {
		t.SweepInterval = time.Minute
	}
	if t.QuoteTimeout == 0 {
		t.QuoteTimeout = 5 * time.Second
	}
	if t.ClockTimeout == 0 {
		t.ClockTimeout = 5 * time.Second
	}
	if t.PriceMaxAge == 0 {
		t.PriceMaxAge = 15 * time.Second
	}
	if t.ClockTTL == 0 {
		t.ClockTTL = 30 * time.Second
	}
	if t.Market == "" {
		t.Market = "us"
	}
	if t.Clock == "" {
		t.Clock = ClockAlpaca
		if t.PaperMode {
			t.Clock = ClockCalendar
		}
	}

	if cfg.Events.KafkaTopic == "" {
		cfg.Events.KafkaTopic = "papertrade.orders"
	}
	if cfg.Events.SSEBuffer == 0 {
		cfg.Events.SSEBuffer = 64
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
