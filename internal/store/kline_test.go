package store

import (
	"context"
	"testing"
	"time"

	"candlelab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleAt(k market.Key, ts time.Time, close int64) market.Candle {
	px := decimal.NewFromInt(close)
	return market.Candle{
		Timestamp: ts, Exchange: k.Exchange, Symbol: k.Symbol, Timeframe: k.Timeframe,
		Open: px, High: px, Low: px, Close: px, Volume: decimal.NewFromInt(1),
	}
}

func TestMemoryCandleStoreMergesAndSorts(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()
	k := market.Key{Exchange: "binance", Symbol: "SOL/USDT", Timeframe: market.FiveMinutes}
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Insert(ctx, []market.Candle{
		candleAt(k, t0.Add(10*time.Minute), 3),
		candleAt(k, t0, 1),
	})
	require.NoError(t, err)
	_, err = s.Insert(ctx, []market.Candle{candleAt(k, t0.Add(5*time.Minute), 2), candleAt(k, t0, 9)})
	require.NoError(t, err)

	got, err := s.Range(ctx, k, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "9", got[0].Close.String())
	assert.Equal(t, "2", got[1].Close.String())

	newest, err := s.Query(ctx, k, 0, 0, 1)
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "3", newest[0].Close.String())

	a, ok, err := s.Series(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), a.Count)
	assert.Equal(t, t0.Add(10*time.Minute), a.Last)

	list, err := s.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryCandleStoreRejectsIncompleteKey(t *testing.T) {
	_, err := NewMemoryCandleStore().Insert(context.Background(), []market.Candle{{Symbol: "X"}})
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, ClampLimit(0))
	assert.Equal(t, MaxQueryLimit, ClampLimit(MaxQueryLimit+1))
	assert.Equal(t, 7, ClampLimit(7))
}
