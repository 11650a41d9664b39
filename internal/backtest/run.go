package backtest

import (
	"strings"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/market"
	api "candlelab/pkg/strategy"

	"github.com/shopspring/decimal"
)

// FetchParams 描述一次 K 线拉取任务。Start 为空时从本地已有数据之后续拉，
// 本地也没有数据时通过二分查找定位首根 K 线；End 为空表示拉到当前时间。
type FetchParams struct {
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Timeframe market.Timeframe `json:"timeframe"`
	Start     *time.Time       `json:"start,omitempty"`
	End       *time.Time       `json:"end,omitempty"`
}

func (p FetchParams) Validate() error {
	return validateSeries(p.Exchange, p.Symbol, p.Timeframe, p.Start, p.End)
}

func (p FetchParams) Key() market.Key {
	return market.Key{Exchange: p.Exchange, Symbol: p.Symbol, Timeframe: p.Timeframe}
}

type FetchResult struct {
	CandlesFetched int        `json:"candles_fetched"`
	First          *time.Time `json:"first_timestamp,omitempty"`
	Last           *time.Time `json:"last_timestamp,omitempty"`
}

// BacktestParams 描述一次回测任务。
type BacktestParams struct {
	Strategy       string           `json:"strategy"`
	Exchange       string           `json:"exchange"`
	Symbol         string           `json:"symbol"`
	Timeframe      market.Timeframe `json:"timeframe"`
	Start          *time.Time       `json:"start,omitempty"`
	End            *time.Time       `json:"end,omitempty"`
	InitialBalance *decimal.Decimal `json:"initial_balance,omitempty"`
}

func (p BacktestParams) Validate() error {
	if strings.TrimSpace(p.Strategy) == "" {
		return apperr.InvalidField("strategy", p.Strategy)
	}
	if p.InitialBalance != nil && p.InitialBalance.IsNegative() {
		return apperr.InvalidField("initial_balance", p.InitialBalance.String())
	}
	return validateSeries(p.Exchange, p.Symbol, p.Timeframe, p.Start, p.End)
}

func (p BacktestParams) Key() market.Key {
	return market.Key{Exchange: p.Exchange, Symbol: p.Symbol, Timeframe: p.Timeframe}
}

func validateSeries(exchange, symbol string, tf market.Timeframe, start, end *time.Time) error {
	if strings.TrimSpace(exchange) == "" {
		return apperr.InvalidField("exchange", exchange)
	}
	if strings.TrimSpace(symbol) == "" {
		return apperr.InvalidField("symbol", symbol)
	}
	if !tf.Valid() {
		return apperr.InvalidField("timeframe", tf.String())
	}
	if start != nil && end != nil && end.Before(*start) {
		return apperr.Validation("end %s is before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// EquityPoint is one sample of the trade-log equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Stats 汇总胜率与回撤，均由成交记录推导。
type Stats struct {
	Trades         int             `json:"trades"`
	ClosingTrades  int             `json:"closing_trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        float64         `json:"win_rate"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	ReturnPct      float64         `json:"return_pct"`
}

// Result is the terminal payload of a backtest task. A failed run carries
// the same shape as its partial result.
type Result struct {
	Candles        int             `json:"candles"`
	Trades         []api.Trade     `json:"trades"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	Fees           decimal.Decimal `json:"fees"`
	NetPnL         decimal.Decimal `json:"net_pnl"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	FinalPosition  api.Position    `json:"final_position"`
	RejectedOrders int             `json:"rejected_orders"`
	UnfilledOrders int             `json:"unfilled_orders"`
	Equity         []EquityPoint   `json:"equity"`
	Stats          Stats           `json:"stats"`
}
