package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

// Host is implemented by the simulator driving a run.
type Host interface {
	Candle() Candle
	History() []Candle
	Trades() []Trade
	Position() Position
	Cash() decimal.Decimal
	Submit(Order) error
}

// Context 是单次 Tick 的视图，只在该次调用期间有效，不要在 Tick 之外保留。
type Context struct {
	host Host
}

func NewContext(h Host) *Context {
	return &Context{host: h}
}

func (c *Context) Candle() Candle { return c.host.Candle() }

func (c *Context) Time() time.Time { return c.host.Candle().Time }

// History returns every candle up to and including the current one.
func (c *Context) History() []Candle { return c.host.History() }

func (c *Context) Trades() []Trade { return c.host.Trades() }

func (c *Context) Position() Position { return c.host.Position() }

func (c *Context) Cash() decimal.Decimal { return c.host.Cash() }

// Submit queues an order; it is filled after Tick returns.
func (c *Context) Submit(o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return c.host.Submit(o)
}

func (c *Context) Buy(qty decimal.Decimal) error {
	return c.Submit(Order{Type: Market, Side: Buy, Quantity: qty})
}

func (c *Context) Sell(qty decimal.Decimal) error {
	return c.Submit(Order{Type: Market, Side: Sell, Quantity: qty})
}

func (c *Context) BuyLimit(qty, price decimal.Decimal) error {
	return c.Submit(Order{Type: Limit, Side: Buy, Quantity: qty, Price: &price})
}

func (c *Context) SellLimit(qty, price decimal.Decimal) error {
	return c.Submit(Order{Type: Limit, Side: Sell, Quantity: qty, Price: &price})
}

// Closes returns the close prices of History as float64, the input shape
// the ta package expects.
func (c *Context) Closes() []float64 {
	hist := c.host.History()
	out := make([]float64, len(hist))
	for i, k := range hist {
		out[i] = k.Close.InexactFloat64()
	}
	return out
}

// Series splits History into high, low, close and volume columns.
func (c *Context) Series() (highs, lows, closes, volumes []float64) {
	hist := c.host.History()
	highs = make([]float64, len(hist))
	lows = make([]float64, len(hist))
	closes = make([]float64, len(hist))
	volumes = make([]float64, len(hist))
	for i, k := range hist {
		highs[i] = k.High.InexactFloat64()
		lows[i] = k.Low.InexactFloat64()
		closes[i] = k.Close.InexactFloat64()
		volumes[i] = k.Volume.InexactFloat64()
	}
	return highs, lows, closes, volumes
}
