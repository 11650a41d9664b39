package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle 是单根 OHLCV K 线，由 (exchange, symbol, timeframe, timestamp) 唯一标识。
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OpenTime returns the bar start in unix milliseconds.
func (c Candle) OpenTime() int64 {
	return c.Timestamp.UnixMilli()
}

// Key identifies a candle series.
type Key struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
}

func (c Candle) Key() Key {
	return Key{Exchange: c.Exchange, Symbol: c.Symbol, Timeframe: c.Timeframe}
}

// AvailableCandles 描述本地已存储的某个序列的范围。
type AvailableCandles struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	First     time.Time `json:"first_timestamp"`
	Last      time.Time `json:"last_timestamp"`
	Count     int64     `json:"count"`
}

// TradingFees are fractional rates, e.g. 0.0004 for 4 bps.
type TradingFees struct {
	Maker decimal.Decimal `json:"maker"`
	Taker decimal.Decimal `json:"taker"`
}

// MarketPrecision 交易所要求的价格与数量步长，0 表示不做对齐。
type MarketPrecision struct {
	PriceStep  decimal.Decimal `json:"price_step"`
	AmountStep decimal.Decimal `json:"amount_step"`
}
