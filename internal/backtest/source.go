package backtest

import (
	"context"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/logger"
	"candlelab/internal/market"
	"candlelab/internal/store"
)

// Feed 提供回测所需的有序 K 线：本地存储完整覆盖区间时直接读取，
// 否则按页向交易所拉取并顺带写回本地。
type Feed struct {
	Exchange  exchange.CandleFetcher
	Store     store.CandleStore
	PageLimit int
	Now       func() time.Time
}

func (f *Feed) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

// Resolve turns optional bounds into an aligned [from, to] millisecond range.
// A nil start is resolved by first-candle discovery; ok is false when the
// exchange has no candles at all.
func (f *Feed) Resolve(ctx context.Context, key market.Key, start, end *time.Time) (from, to int64, ok bool, err error) {
	tf := key.Timeframe
	to = tf.AlignDown(f.now().UnixMilli())
	if end != nil {
		to = tf.AlignDown(end.UnixMilli())
	}
	if start != nil {
		from = tf.AlignDown(start.UnixMilli())
		if start.UnixMilli() != from {
			from += tf.Millis()
		}
		return from, to, from <= to, nil
	}
	first, err := exchange.FirstCandle(ctx, f.Exchange, key.Exchange, key.Symbol, tf, f.now())
	if err != nil {
		return 0, 0, false, apperr.Execution("discover first candle", err)
	}
	if first == nil {
		return 0, 0, false, nil
	}
	return first.OpenTime(), to, first.OpenTime() <= to, nil
}

// Candles 返回 [start, end] 内的 K 线，按时间升序。
func (f *Feed) Candles(ctx context.Context, key market.Key, start, end *time.Time) ([]market.Candle, error) {
	from, to, ok, err := f.Resolve(ctx, key, start, end)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation("no candles available for %s %s %s", key.Exchange, key.Symbol, key.Timeframe)
	}
	if f.Store != nil {
		if s, found, err := f.Store.Series(ctx, key); err == nil && found && covers(s, from, to) {
			list, err := f.Store.Range(ctx, key, from, to)
			if err == nil && int64(len(list)) == key.Timeframe.ExpectedCandles(from, to) {
				logger.Debugf("[backtest] %s %s %s 使用本地 K 线 %d 根", key.Exchange, key.Symbol, key.Timeframe, len(list))
				return list, nil
			}
		}
	}

	var out []market.Candle
	err = exchange.FetchRange(ctx, f.Exchange, key.Exchange, key.Symbol, key.Timeframe, from, to, f.PageLimit, func(page []market.Candle) error {
		out = append(out, page...)
		if f.Store == nil {
			return nil
		}
		if _, err := f.Store.Insert(ctx, page); err != nil {
			logger.Warnf("[backtest] 写入本地 K 线失败: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Execution("fetch candles", err)
	}
	return out, nil
}

func covers(s market.AvailableCandles, from, to int64) bool {
	return s.First.UnixMilli() <= from && s.Last.UnixMilli() >= to
}
