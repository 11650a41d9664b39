package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"candlelab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridFetcher serves one candle per timeframe step for every timestamp >= cutoff.
type gridFetcher struct {
	cutoff int64
	end    int64
	tf     market.Timeframe
	calls  int
	failAt int
}

func (g *gridFetcher) FetchCandles(_ context.Context, exchange string, q CandleQuery) ([]market.Candle, error) {
	g.calls++
	if g.failAt > 0 && g.calls == g.failAt {
		return nil, errors.New("rate limited")
	}
	step := q.Timeframe.Millis()
	since := int64(0)
	if q.Since != nil {
		since = *q.Since
	}
	start := since
	if start < g.cutoff {
		start = g.cutoff
	}
	if rem := (start - g.cutoff) % step; rem != 0 {
		start += step - rem
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	var out []market.Candle
	for ts := start; ts <= g.end && len(out) < limit; ts += step {
		out = append(out, market.Candle{
			Timestamp: time.UnixMilli(ts).UTC(),
			Exchange:  exchange,
			Symbol:    q.Symbol,
			Timeframe: q.Timeframe,
			Close:     decimal.NewFromInt(ts),
		})
	}
	return out, nil
}

func TestFirstCandleFindsCutoff(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2019, 9, 8, 17, 0, 0, 0, time.UTC).UnixMilli()
	f := &gridFetcher{cutoff: cutoff, end: now.UnixMilli(), tf: market.OneHour}

	c, err := FirstCandle(context.Background(), f, "binance", "BTC/USDT", market.OneHour, now)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, cutoff, c.OpenTime())
	assert.Less(t, f.calls, 64)
}

func TestFirstCandleNoData(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &gridFetcher{cutoff: now.UnixMilli() + 1, end: now.UnixMilli(), tf: market.OneDay}

	c, err := FirstCandle(context.Background(), f, "binance", "NEW/USDT", market.OneDay, now)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestFirstCandleProbeErrorAborts(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &gridFetcher{cutoff: 0, end: now.UnixMilli(), tf: market.OneDay, failAt: 3}

	c, err := FirstCandle(context.Background(), f, "binance", "BTC/USDT", market.OneDay, now)
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 3, f.calls)
}

func TestFetchRangePagesForward(t *testing.T) {
	step := market.OneHour.Millis()
	f := &gridFetcher{cutoff: 0, end: 100 * step, tf: market.OneHour}

	var got []int64
	err := FetchRange(context.Background(), f, "binance", "BTC/USDT", market.OneHour, 10*step, 34*step, 10, func(page []market.Candle) error {
		assert.LessOrEqual(t, len(page), 10)
		for _, c := range page {
			got = append(got, c.OpenTime())
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 25)
	assert.Equal(t, 10*step, got[0])
	assert.Equal(t, 34*step, got[len(got)-1])
	assert.Equal(t, 3, f.calls)
}

func TestFetchRangeStopsWhenExhausted(t *testing.T) {
	step := market.OneHour.Millis()
	f := &gridFetcher{cutoff: 0, end: 5 * step, tf: market.OneHour}

	count := 0
	err := FetchRange(context.Background(), f, "binance", "BTC/USDT", market.OneHour, 0, 50*step, 4, func(page []market.Candle) error {
		count += len(page)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
