package candles

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcHour = market.Key{Exchange: "binance", Symbol: "BTC/USDT", Timeframe: market.OneHour}

func series(k market.Key, start time.Time, closes ...string) []market.Candle {
	out := make([]market.Candle, 0, len(closes))
	for i, c := range closes {
		px := decimal.RequireFromString(c)
		out = append(out, market.Candle{
			Timestamp: start.Add(time.Duration(i) * k.Timeframe.Duration()),
			Exchange:  k.Exchange,
			Symbol:    k.Symbol,
			Timeframe: k.Timeframe,
			Open:      px, High: px, Low: px, Close: px,
			Volume: decimal.RequireFromString("1.00000001"),
		})
	}
	return out
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndRangeKeepsDecimals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := s.Insert(ctx, series(btcHour, start, "42000.123456789", "42001", "42002.5"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Range(ctx, btcHour, start.UnixMilli(), start.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "42000.123456789", got[0].Close.String())
	assert.Equal(t, "1.00000001", got[0].Volume.String())
	assert.Equal(t, start, got[0].Timestamp)
	assert.Equal(t, btcHour, got[1].Key())
}

func TestInsertOverwritesSameOpenTime(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Insert(ctx, series(btcHour, start, "1", "2"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, series(btcHour, start, "10"))
	require.NoError(t, err)

	got, err := s.Range(ctx, btcHour, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(10)))

	a, ok, err := s.Series(ctx, btcHour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), a.Count)
	assert.Equal(t, start, a.First)
	assert.Equal(t, start.Add(time.Hour), a.Last)
}

func TestQueryNewestWhenUnbounded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Insert(ctx, series(btcHour, start, "1", "2", "3", "4", "5"))
	require.NoError(t, err)

	got, err := s.Query(ctx, btcHour, 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].Close.String())
	assert.Equal(t, "5", got[1].Close.String())

	got, err = s.Query(ctx, btcHour, start.Add(time.Hour).UnixMilli(), 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].Close.String())
}

func TestSeriesMissing(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.Series(context.Background(), btcHour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvailableListsEverySeries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	minute := market.Key{Exchange: "binance", Symbol: "BTC/USDT", Timeframe: market.OneMinute}
	month := market.Key{Exchange: "binance", Symbol: "BTC/USDT", Timeframe: market.OneMonth}
	eth := market.Key{Exchange: "binance", Symbol: "ETH/USDT", Timeframe: market.OneDay}
	var batch []market.Candle
	batch = append(batch, series(btcHour, start, "1", "2")...)
	batch = append(batch, series(minute, start, "1")...)
	batch = append(batch, series(month, start, "1")...)
	batch = append(batch, series(eth, start, "1", "2", "3")...)
	_, err := s.Insert(ctx, batch)
	require.NoError(t, err)

	list, err := s.Available(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, market.OneMinute, list[0].Timeframe)
	assert.Equal(t, market.OneHour, list[1].Timeframe)
	assert.Equal(t, market.OneMonth, list[2].Timeframe)
	assert.Equal(t, "ETH/USDT", list[3].Symbol)
	assert.Equal(t, int64(3), list[3].Count)
}

func TestRejectsInvalidKey(t *testing.T) {
	s := newStore(t)
	_, err := s.Range(context.Background(), market.Key{Exchange: "binance", Symbol: "BTC/USDT", Timeframe: "7m"}, 0, 0)
	assert.Error(t, err)
}

func TestPathLikeKeysRejected(t *testing.T) {
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "data", "candles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	keys := []market.Key{
		{Exchange: "../../escaped", Symbol: "BTC/USDT", Timeframe: market.OneHour},
		{Exchange: "binance", Symbol: "../BTC", Timeframe: market.OneHour},
		{Exchange: `bin\ance`, Symbol: "BTC/USDT", Timeframe: market.OneHour},
		{Exchange: "", Symbol: "BTC/USDT", Timeframe: market.OneHour},
	}
	for _, k := range keys {
		_, err = s.Query(ctx, k, 0, 0, 10)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", k)
		_, err = s.Insert(ctx, series(k, time.Now(), "1"))
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", k)
	}
	var created []string
	require.NoError(t, filepath.WalkDir(base, func(path string, _ os.DirEntry, err error) error {
		created = append(created, path)
		return err
	}))
	assert.Equal(t, []string{base, filepath.Join(base, "data"), filepath.Join(base, "data", "candles")}, created)
}

func TestReadsDoNotCreateFiles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	got, err := s.Query(ctx, btcHour, 0, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Range(ctx, btcHour, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, ok, err := s.Series(ctx, btcHour)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(s.dbPath(btcHour))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(s.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, s.dbs)
}
