package binance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Name        string
	RESTBaseURL string
	HTTPTimeout time.Duration
	ProxyURL    string

	// 公共接口拿不到账户费率，使用配置值。
	MakerFee decimal.Decimal
	TakerFee decimal.Decimal

	RateLimitPerMin  int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MetadataTTL      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.Name = strings.ToLower(strings.TrimSpace(out.Name))
	if out.Name == "" {
		out.Name = "binance"
	}
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	if out.MakerFee.IsZero() && out.TakerFee.IsZero() {
		out.MakerFee = decimal.RequireFromString("0.0002")
		out.TakerFee = decimal.RequireFromString("0.0005")
	}
	if out.RateLimitPerMin <= 0 {
		out.RateLimitPerMin = 1200
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	if out.MetadataTTL <= 0 {
		out.MetadataTTL = time.Hour
	}
	return out
}
