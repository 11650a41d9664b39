package exchange

import (
	"context"
	"testing"

	"candlelab/internal/apperr"
	"candlelab/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) Name() string { return m.Called().String(0) }

func (m *MockMarket) Symbols(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMarket) Timeframes(ctx context.Context) ([]market.Timeframe, error) {
	args := m.Called(ctx)
	return args.Get(0).([]market.Timeframe), args.Error(1)
}

func (m *MockMarket) Fees(ctx context.Context, symbol string) (market.TradingFees, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.TradingFees), args.Error(1)
}

func (m *MockMarket) Precision(ctx context.Context, symbol string) (market.MarketPrecision, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.MarketPrecision), args.Error(1)
}

func (m *MockMarket) FetchCandles(ctx context.Context, q CandleQuery) ([]market.Candle, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

func TestRegistryRoutesByName(t *testing.T) {
	ctx := context.Background()
	bn := new(MockMarket)
	bn.On("Name").Return("Binance")
	bn.On("Symbols", ctx).Return([]string{"BTC/USDT"}, nil)
	fees := market.TradingFees{Maker: decimal.RequireFromString("0.0002"), Taker: decimal.RequireFromString("0.0005")}
	bn.On("Fees", ctx, "BTC/USDT").Return(fees, nil)

	reg := NewRegistry(bn)
	assert.Equal(t, []string{"binance"}, reg.Exchanges())

	syms, err := reg.Symbols(ctx, " BINANCE ")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, syms)

	got, err := reg.Fees(ctx, "binance", "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, fees.Taker.Equal(got.Taker))
	bn.AssertExpectations(t)
}

func TestRegistryRejectsUnknownExchange(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Symbols(context.Background(), "kraken")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRegistryValidatesTimeframe(t *testing.T) {
	bn := new(MockMarket)
	bn.On("Name").Return("binance")
	reg := NewRegistry(bn)

	_, err := reg.FetchCandles(context.Background(), "binance", CandleQuery{Symbol: "BTC/USDT", Timeframe: "9q"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	bn.AssertNotCalled(t, "FetchCandles", mock.Anything, mock.Anything)
}
