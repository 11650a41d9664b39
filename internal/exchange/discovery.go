package exchange

import (
	"context"
	"fmt"
	"time"

	"candlelab/internal/logger"
	"candlelab/internal/market"
)

// CandleFetcher is the subset of Client needed for paging and discovery.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, exchange string, q CandleQuery) ([]market.Candle, error)
}

// FirstCandle 在 [0, now] 毫秒区间上二分查找最早可用的 K 线。
//
// 每次探测请求 since=mid、limit=1 的一页：有数据则记录并向左收缩，
// 否则向右收缩。假设交易所数据可用性单调；存在缺口时结果可能晚于真实首根。
// 任一探测失败即中止并返回该错误，不在此层重试。
func FirstCandle(ctx context.Context, f CandleFetcher, exchange, symbol string, tf market.Timeframe, now time.Time) (*market.Candle, error) {
	left := int64(0)
	right := now.UnixMilli()
	var first *market.Candle
	probes := 0
	for left <= right {
		mid := left + (right-left)/2
		since := mid
		candles, err := f.FetchCandles(ctx, exchange, CandleQuery{
			Symbol:    symbol,
			Timeframe: tf,
			Since:     &since,
			Limit:     1,
		})
		probes++
		if err != nil {
			return nil, fmt.Errorf("first candle probe %s %s %s at %d: %w", exchange, symbol, tf, mid, err)
		}
		if len(candles) > 0 {
			c := candles[0]
			first = &c
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	if first != nil {
		logger.Debugf("[exchange] %s %s %s 首根 K 线 %s（探测 %d 次）", exchange, symbol, tf, first.Timestamp.Format(time.RFC3339), probes)
	}
	return first, nil
}

// PageFunc receives one ascending page; returning an error stops paging.
type PageFunc func(page []market.Candle) error

// FetchRange 从 from 开始按页向后拉取，直到 to（含）或数据源不再返回新数据。
func FetchRange(ctx context.Context, f CandleFetcher, exchange, symbol string, tf market.Timeframe, from, to int64, pageLimit int, fn PageFunc) error {
	step := tf.Millis()
	if step <= 0 {
		return fmt.Errorf("fetch range: unsupported timeframe %q", tf)
	}
	cursor := from
	for cursor <= to {
		if err := ctx.Err(); err != nil {
			return err
		}
		since := cursor
		page, err := f.FetchCandles(ctx, exchange, CandleQuery{
			Symbol:    symbol,
			Timeframe: tf,
			Since:     &since,
			Limit:     pageLimit,
		})
		if err != nil {
			return fmt.Errorf("fetch %s %s %s since %d: %w", exchange, symbol, tf, cursor, err)
		}
		kept := page[:0:0]
		for _, c := range page {
			ts := c.OpenTime()
			if ts < cursor || ts > to {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			return nil
		}
		if err := fn(kept); err != nil {
			return err
		}
		cursor = kept[len(kept)-1].OpenTime() + step
	}
	return nil
}
