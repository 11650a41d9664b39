// Package strategy is the API a backtest strategy plugin is written against.
//
// A plugin is a Go package built with -buildmode=plugin that exports
//
//	func NewStrategy() strategy.Strategy
//
// The host calls NewStrategy once per backtest run and then Tick once per
// candle, in time order.
package strategy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryPoint is the symbol the loader resolves in a built plugin.
const EntryPoint = "NewStrategy"

type Strategy interface {
	Tick(ctx *Context) error
}

// Constructor is the type of the exported EntryPoint.
type Constructor = func() Strategy

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Order 由策略在 Tick 中提交；Price 仅限价单需要。
type Order struct {
	Type     OrderType        `json:"type"`
	Side     Side             `json:"side"`
	Quantity decimal.Decimal  `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

var (
	ErrInvalidQuantity = errors.New("order quantity must be positive")
	ErrMissingPrice    = errors.New("limit order requires a positive price")
	ErrInvalidOrder    = errors.New("unknown order type or side")
)

// Validate checks the order shape before it reaches the simulator.
func (o Order) Validate() error {
	if o.Type != Market && o.Type != Limit {
		return ErrInvalidOrder
	}
	if o.Side != Buy && o.Side != Sell {
		return ErrInvalidOrder
	}
	if !o.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if o.Type == Limit && (o.Price == nil || !o.Price.IsPositive()) {
		return ErrMissingPrice
	}
	return nil
}

// Trade 是一次成交记录，成交后对后续 Tick 可见。
type Trade struct {
	Order     Order           `json:"order"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candle is the bar a tick is bound to.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Position is the net holding; Quantity is negative when short.
type Position struct {
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

func (p Position) Flat() bool { return p.Quantity.IsZero() }
