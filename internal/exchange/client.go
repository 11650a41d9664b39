// Package exchange 定义行情数据协作方的能力接口，并提供按交易所名分发的注册表。
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"

	"candlelab/internal/apperr"
	"candlelab/internal/market"
)

// CandleQuery selects one page of candles. Nil Since and zero Limit
// leave the choice to the exchange.
type CandleQuery struct {
	Symbol    string
	Timeframe market.Timeframe
	Since     *int64
	Limit     int
}

// Market 是单个交易所的数据源实现。
type Market interface {
	Name() string
	Symbols(ctx context.Context) ([]string, error)
	Timeframes(ctx context.Context) ([]market.Timeframe, error)
	Fees(ctx context.Context, symbol string) (market.TradingFees, error)
	Precision(ctx context.Context, symbol string) (market.MarketPrecision, error)
	FetchCandles(ctx context.Context, q CandleQuery) ([]market.Candle, error)
}

// Client is the capability the task and backtest layers consume.
// FetchCandles returns candles in ascending timestamp order.
type Client interface {
	Exchanges() []string
	Symbols(ctx context.Context, exchange string) ([]string, error)
	Timeframes(ctx context.Context, exchange string) ([]market.Timeframe, error)
	Fees(ctx context.Context, exchange, symbol string) (market.TradingFees, error)
	Precision(ctx context.Context, exchange, symbol string) (market.MarketPrecision, error)
	FetchCandles(ctx context.Context, exchange string, q CandleQuery) ([]market.Candle, error)
}

// Registry 将 Client 调用按交易所名路由到具体 Market。
type Registry struct {
	mu      sync.RWMutex
	markets map[string]Market
}

func NewRegistry(markets ...Market) *Registry {
	r := &Registry{markets: make(map[string]Market, len(markets))}
	for _, m := range markets {
		r.Register(m)
	}
	return r
}

func (r *Registry) Register(m Market) {
	if m == nil {
		return
	}
	r.mu.Lock()
	r.markets[normalizeName(m.Name())] = m
	r.mu.Unlock()
}

func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.markets))
	for name := range r.markets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) market(name string) (Market, error) {
	r.mu.RLock()
	m, ok := r.markets[normalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Validation("invalid exchange: %s", name)
	}
	return m, nil
}

func (r *Registry) Symbols(ctx context.Context, exchange string) ([]string, error) {
	m, err := r.market(exchange)
	if err != nil {
		return nil, err
	}
	return m.Symbols(ctx)
}

func (r *Registry) Timeframes(ctx context.Context, exchange string) ([]market.Timeframe, error) {
	m, err := r.market(exchange)
	if err != nil {
		return nil, err
	}
	return m.Timeframes(ctx)
}

func (r *Registry) Fees(ctx context.Context, exchange, symbol string) (market.TradingFees, error) {
	m, err := r.market(exchange)
	if err != nil {
		return market.TradingFees{}, err
	}
	return m.Fees(ctx, symbol)
}

func (r *Registry) Precision(ctx context.Context, exchange, symbol string) (market.MarketPrecision, error) {
	m, err := r.market(exchange)
	if err != nil {
		return market.MarketPrecision{}, err
	}
	return m.Precision(ctx, symbol)
}

func (r *Registry) FetchCandles(ctx context.Context, exchange string, q CandleQuery) ([]market.Candle, error) {
	m, err := r.market(exchange)
	if err != nil {
		return nil, err
	}
	if !q.Timeframe.Valid() {
		return nil, apperr.InvalidField("timeframe", q.Timeframe.String())
	}
	return m.FetchCandles(ctx, q)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
