// Package gateway 根据配置组装具体交易所实现。
package gateway

import (
	"fmt"
	"time"

	"candlelab/internal/config"
	"candlelab/internal/exchange"
	"candlelab/internal/gateway/binance"

	"github.com/shopspring/decimal"
)

// NewExchangeFromConfig 注册所有启用的交易所，返回按名称路由的 Registry。
func NewExchangeFromConfig(cfg *config.Config) (*exchange.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	reg := exchange.NewRegistry()
	if b := cfg.Exchange.Binance; b.Enabled {
		client, err := binance.New(BinanceConfig(b))
		if err != nil {
			return nil, fmt.Errorf("binance: %w", err)
		}
		reg.Register(client)
	}
	if len(reg.Exchanges()) == 0 {
		return nil, fmt.Errorf("no exchange enabled")
	}
	return reg, nil
}

func BinanceConfig(b config.BinanceConfig) binance.Config {
	return binance.Config{
		Name:             "binance",
		RESTBaseURL:      b.RESTBaseURL,
		ProxyURL:         b.ProxyURL,
		HTTPTimeout:      time.Duration(b.HTTPTimeoutSeconds) * time.Second,
		MakerFee:         decimal.NewFromFloat(b.MakerFee),
		TakerFee:         decimal.NewFromFloat(b.TakerFee),
		RateLimitPerMin:  b.RateLimitPerMin,
		BreakerThreshold: b.BreakerThreshold,
		BreakerCooldown:  time.Duration(b.BreakerCooldownSeconds) * time.Second,
		MetadataTTL:      time.Duration(b.MetadataTTLSeconds) * time.Second,
	}
}
