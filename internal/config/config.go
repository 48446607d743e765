package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance Binance `mapstructure:"binance"`
	Grid    Grid    `mapstructure:"grid"`
	Engine  Engine  `mapstructure:"engine"`
	Store   Store   `mapstructure:"store"`
	Logger  Logger  `mapstructure:"logger"`
	Server  Server  `mapstructure:"server"`
	Paper   Paper   `mapstructure:"paper"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Grid is the strategy profile of the traded pair. It is read once at startup
// and never changes for the lifetime of the process.
type Grid struct {
	TradingPair    string  `mapstructure:"trading_pair"`
	TargetCoin     string  `mapstructure:"target_coin"`
	AnchorCoin     string  `mapstructure:"anchor_coin"`
	BuyDownRate    float64 `mapstructure:"buy_down_rate"`
	SellUpRate     float64 `mapstructure:"sell_up_rate"`
	Precision      int32   `mapstructure:"precision"`
	BuyQuoteAmount float64 `mapstructure:"buy_quote_amount"`
}

// Engine holds the timings of the polling loop and of order settlement.
type Engine struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	MinPollSpacing        time.Duration `mapstructure:"min_poll_spacing"`
	SettlementWindow      time.Duration `mapstructure:"settlement_window"`
	OrderLookupRetryDelay time.Duration `mapstructure:"order_lookup_retry_delay"`
	DryRun                bool          `mapstructure:"dry_run"`
}

// Store holds the configuration of the ledger persistence.
type Store struct {
	Backend       string        `mapstructure:"backend"` // "sqlite" or "json"
	DSN           string        `mapstructure:"dsn"`
	JSONPath      string        `mapstructure:"json_path"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Server holds the configuration for the status server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Paper holds the simulated balances used in dry-run mode.
type Paper struct {
	QuoteBalance float64 `mapstructure:"quote_balance"`
	BaseBalance  float64 `mapstructure:"base_balance"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// Secrets usually live in .env; a missing file is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size

	v.SetDefault("grid.anchor_coin", "USDT")
	v.SetDefault("grid.precision", 2)

	v.SetDefault("engine.poll_interval", 2*time.Second)
	v.SetDefault("engine.min_poll_spacing", time.Second)
	v.SetDefault("engine.settlement_window", time.Minute)
	v.SetDefault("engine.order_lookup_retry_delay", 5*time.Minute)

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.dsn", "grid.db")
	v.SetDefault("store.json_path", "db.json")
	v.SetDefault("store.flush_interval", time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)

	v.SetDefault("server.port", 8080)
}

// Validate rejects configurations the grid strategy cannot run with.
func (c Config) Validate() error {
	var errs []error
	g := c.Grid
	if g.TradingPair == "" {
		errs = append(errs, errors.New("grid.trading_pair is required"))
	}
	if g.TargetCoin == "" || g.AnchorCoin == "" {
		errs = append(errs, errors.New("grid.target_coin and grid.anchor_coin are required"))
	}
	if g.BuyDownRate <= 0 || g.BuyDownRate >= 1 {
		errs = append(errs, fmt.Errorf("grid.buy_down_rate must be in (0, 1), got %v", g.BuyDownRate))
	}
	if g.SellUpRate <= 0 || g.SellUpRate >= 1 {
		errs = append(errs, fmt.Errorf("grid.sell_up_rate must be in (0, 1), got %v", g.SellUpRate))
	}
	if g.Precision < 0 {
		errs = append(errs, fmt.Errorf("grid.precision must not be negative, got %d", g.Precision))
	}
	if g.BuyQuoteAmount <= 0 {
		errs = append(errs, fmt.Errorf("grid.buy_quote_amount must be positive, got %v", g.BuyQuoteAmount))
	}
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, errors.New("engine.poll_interval must be positive"))
	}
	if c.Engine.MinPollSpacing < 0 {
		errs = append(errs, fmt.Errorf("engine.min_poll_spacing must not be negative, got %s", c.Engine.MinPollSpacing))
	}
	if c.Store.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("store.flush_interval must be positive, got %s", c.Store.FlushInterval))
	}
	switch c.Store.Backend {
	case "sqlite", "json":
	default:
		errs = append(errs, fmt.Errorf("store.backend must be sqlite or json, got %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}
