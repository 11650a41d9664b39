package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeInfoJSON = `{
  "timezone": "UTC",
  "serverTime": 1700000000000,
  "symbols": [
    {"symbol":"BTCUSDT","pair":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
     "filters":[
       {"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
       {"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"}
     ]},
    {"symbol":"OLDUSDT","pair":"OLDUSDT","status":"SETTLING","baseAsset":"OLD","quoteAsset":"USDT","filters":[]}
  ]
}`

const klinesJSON = `[
  [1700000000000,"37000.10","37100.00","36950.00","37050.50","812.345",1700003599999,"0",1000,"0","0","0"],
  [1700003600000,"37050.50","37200.00","37000.00","37180.00","640.001",1700007199999,"0",900,"0","0","0"]
]`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			atomic.AddInt32(hits, 1)
			_, _ = w.Write([]byte(exchangeInfoJSON))
		case "/fapi/v1/klines":
			assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "1h", r.URL.Query().Get("interval"))
			_, _ = w.Write([]byte(klinesJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientMetadata(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c, err := New(Config{RESTBaseURL: srv.URL, HTTPTimeout: 2 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	syms, err := c.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, syms)

	p, err := c.Precision(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.1").Equal(p.PriceStep))
	assert.True(t, decimal.RequireFromString("0.001").Equal(p.AmountStep))

	fees, err := c.Fees(ctx, "btcusdt")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.0005").Equal(fees.Taker))

	_, err = c.Precision(ctx, "OLD/USDT")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "exchange info is cached")
}

func TestClientFetchCandles(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	since := int64(1700000000000)
	candles, err := c.FetchCandles(context.Background(), exchange.CandleQuery{
		Symbol:    "BTC/USDT",
		Timeframe: market.OneHour,
		Since:     &since,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, since, first.OpenTime())
	assert.Equal(t, "binance", first.Exchange)
	assert.Equal(t, "BTC/USDT", first.Symbol)
	assert.True(t, decimal.RequireFromString("37050.50").Equal(first.Close))
	assert.True(t, candles[1].Timestamp.After(first.Timestamp))
}
