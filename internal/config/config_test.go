package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
binance:
  apiKey: key
  secretKey: secret
grid:
  trading_pair: ETHUSDT
  target_coin: ETH
  buy_down_rate: 0.05
  sell_up_rate: 0.05
  buy_quote_amount: 100
engine:
  settlement_window: 30s
store:
  backend: json
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Grid.TradingPair)
	assert.Equal(t, "USDT", cfg.Grid.AnchorCoin, "anchor coin defaults to USDT")
	assert.Equal(t, int32(2), cfg.Grid.Precision)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.SettlementWindow)
	assert.Equal(t, 5*time.Minute, cfg.Engine.OrderLookupRetryDelay)
	assert.Equal(t, "json", cfg.Store.Backend)
	assert.Equal(t, time.Minute, cfg.Store.FlushInterval)
	assert.Equal(t, float64(20), cfg.Binance.RateLimit)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Grid: Grid{
			TradingPair:    "ETHUSDT",
			TargetCoin:     "ETH",
			AnchorCoin:     "USDT",
			BuyDownRate:    0.1,
			SellUpRate:     0.05,
			Precision:      2,
			BuyQuoteAmount: 50,
		},
		Engine: Engine{PollInterval: time.Second},
		Store:  Store{Backend: "sqlite", FlushInterval: time.Minute},
	}
	assert.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"missing pair", func(c *Config) { c.Grid.TradingPair = "" }, "trading_pair"},
		{"zero sell rate", func(c *Config) { c.Grid.SellUpRate = 0 }, "sell_up_rate"},
		{"buy rate of one", func(c *Config) { c.Grid.BuyDownRate = 1 }, "buy_down_rate"},
		{"negative precision", func(c *Config) { c.Grid.Precision = -1 }, "precision"},
		{"no quote amount", func(c *Config) { c.Grid.BuyQuoteAmount = 0 }, "buy_quote_amount"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"zero flush interval", func(c *Config) { c.Store.FlushInterval = 0 }, "store.flush_interval"},
		{"negative poll spacing", func(c *Config) { c.Engine.MinPollSpacing = -time.Second }, "engine.min_poll_spacing"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
