package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "data/db/tasks.db", cfg.Storage.DSN)
	assert.Equal(t, 1000, cfg.Exchange.PageLimit)
	assert.True(t, cfg.Exchange.Binance.Enabled)
	assert.Equal(t, 0.0002, cfg.Exchange.Binance.MakerFee)
	assert.Equal(t, 0.0005, cfg.Exchange.Binance.TakerFee)
	assert.Equal(t, 1000, cfg.Tasks.BusCapacity)
	assert.Equal(t, "strategies", cfg.Strategy.Root)
	assert.Equal(t, float64(10000), cfg.Backtest.InitialBalance)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
}

func TestExplicitZeroFeeIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exchange:
  binance:
    maker_fee: 0
    taker_fee: 0.0004
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Exchange.Binance.MakerFee)
	assert.Equal(t, 0.0004, cfg.Exchange.Binance.TakerFee)
}

func TestIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  http_addr: ":9000"
  log_level: debug
storage:
  candle_root: /tmp/candles
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  log_level: warn
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, "/tmp/candles", cfg.Storage.CandleRoot)
}

func TestIncludeCycleRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n")
	t.Setenv("CANDLELAB_APP_LOG_LEVEL", "debug")
	t.Setenv("CANDLELAB_EXCHANGE_PAGE_LIMIT", "500")
	t.Setenv("CANDLELAB_BACKTEST_SLIPPAGE_BPS", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 500, cfg.Exchange.PageLimit)
	assert.Equal(t, 2.5, cfg.Backtest.SlippageBps)
}

func TestDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")
	writeFile(t, dir, ".env", "CANDLELAB_STRATEGY_ROOT=/srv/strategies\n")
	t.Cleanup(func() { _ = os.Unsetenv("CANDLELAB_STRATEGY_ROOT") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/strategies", cfg.Strategy.Root)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"driver":     "storage:\n  driver: oracle\n",
		"log format": "app:\n  log_format: xml\n",
		"log level":  "app:\n  log_level: loud\n",
		"page limit": "exchange:\n  page_limit: 5000\n",
		"slippage":   "backtest:\n  slippage_bps: -1\n",
		"postgres":   "storage:\n  driver: postgres\n",
		"exchange":   "exchange:\n  default: kraken\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEmptyPathRejected(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
