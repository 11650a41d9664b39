package store

import (
	"context"

	"candlelab/internal/market"
)

// CandleStore persists candle series keyed by (exchange, symbol, timeframe).
// Timestamps in the range arguments are unix milliseconds; zero means unbounded.
type CandleStore interface {
	// Insert upserts candles; an existing bar with the same open time is overwritten.
	Insert(ctx context.Context, candles []market.Candle) (int, error)
	// Range returns every candle with start <= open time <= end, ascending.
	Range(ctx context.Context, key market.Key, start, end int64) ([]market.Candle, error)
	// Query returns at most limit candles. With only end (or no bound) set the
	// newest candles are returned, still in ascending order.
	Query(ctx context.Context, key market.Key, start, end int64, limit int) ([]market.Candle, error)
	// Series reports the stored extent of one series; false when nothing is stored.
	Series(ctx context.Context, key market.Key) (market.AvailableCandles, bool, error)
	// Available lists every non-empty stored series.
	Available(ctx context.Context) ([]market.AvailableCandles, error)
	Close() error
}

const (
	DefaultQueryLimit = 500
	MaxQueryLimit     = 5000
)

// ClampLimit 规范化查询条数。
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
