package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if c.Tasks.BusCapacity <= 0 {
		return fmt.Errorf("tasks.bus_capacity must be > 0")
	}
	if strings.TrimSpace(c.Strategy.Root) == "" {
		return fmt.Errorf("strategy.root is required")
	}
	return c.Backtest.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be debug|info|warn|error, got %q", a.LogLevel)
	}
	switch a.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text|json, got %q", a.LogFormat)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr is required")
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite|postgres, got %q", s.Driver)
	}
	if strings.TrimSpace(s.DSN) == "" {
		return fmt.Errorf("storage.dsn is required for driver %s", s.Driver)
	}
	if strings.TrimSpace(s.CandleRoot) == "" {
		return fmt.Errorf("storage.candle_root is required")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.PageLimit <= 0 || e.PageLimit > 1500 {
		return fmt.Errorf("exchange.page_limit must be in (0, 1500], got %d", e.PageLimit)
	}
	if !e.Binance.Enabled {
		return fmt.Errorf("exchange.binance.enabled=false leaves no exchange configured")
	}
	if e.Default != "binance" {
		return fmt.Errorf("exchange.default %q is not configured", e.Default)
	}
	b := e.Binance
	if b.MakerFee < 0 || b.TakerFee < 0 {
		return fmt.Errorf("exchange.binance fees must be >= 0")
	}
	if b.RateLimitPerMin <= 0 {
		return fmt.Errorf("exchange.binance.rate_limit_per_min must be > 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.SlippageBps < 0 {
		return fmt.Errorf("backtest.slippage_bps must be >= 0")
	}
	if b.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be > 0")
	}
	if b.MaxConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent must be > 0")
	}
	return nil
}
