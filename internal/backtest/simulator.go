package backtest

import (
	"context"
	"fmt"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/logger"
	"candlelab/internal/market"
	"candlelab/internal/pkg/precision"
	"candlelab/internal/task"
	api "candlelab/pkg/strategy"

	"github.com/shopspring/decimal"
)

// Ticker is the part of a loaded strategy the simulator drives.
type Ticker interface {
	Tick(ctx *api.Context) error
}

type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseStreaming    Phase = "streaming"
	PhaseFinalizing   Phase = "finalizing"
	PhaseDone         Phase = "done"
)

type SimulatorConfig struct {
	Fees           market.TradingFees
	Precision      market.MarketPrecision
	SlippageBps    decimal.Decimal
	InitialBalance decimal.Decimal
}

// Simulator 将历史 K 线逐根回放给策略并模拟撮合。
// 市价单在当根收盘价（含滑点）按 taker 费率成交；限价单挂到后续 K 线，
// 价格被穿越时按限价以 maker 费率成交。
type Simulator struct {
	cfg SimulatorConfig
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

var bps = decimal.NewFromInt(10000)

// Run replays candles in order. A tick failure stops the run and returns a
// task.PartialError carrying the result accumulated so far.
func (s *Simulator) Run(ctx context.Context, strat Ticker, candles []market.Candle, progress task.ProgressFunc) (Result, error) {
	r := &run{cfg: s.cfg, phase: PhaseInitializing}
	if len(candles) == 0 {
		return Result{}, apperr.Validation("no candles to backtest")
	}
	if progress == nil {
		progress = func(float64) {}
	}
	r.history = make([]api.Candle, 0, len(candles))
	r.mark(candles[0].Timestamp, r.cfg.InitialBalance)

	r.enter(PhaseStreaming)
	total := float64(len(candles))
	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			partial := r.finalize()
			return partial, task.WithPartial(partial, err)
		}
		bar := toBar(c)
		r.current = bar
		r.history = append(r.history, bar)
		r.matchResting(bar)

		if err := safeTick(strat, api.NewContext(r)); err != nil {
			r.pending = nil
			partial := r.finalize()
			logger.Warnf("[backtest] 第 %d 根 K 线策略执行失败: %v", i, err)
			return partial, task.WithPartial(partial,
				apperr.Execution(fmt.Sprintf("tick %d at %s", i, bar.Time.Format(time.RFC3339)), err))
		}
		r.applyPending(bar)
		progress(float64(i+1) / total)
	}

	r.enter(PhaseFinalizing)
	res := r.finalize()
	r.enter(PhaseDone)
	return res, nil
}

func safeTick(strat Ticker, ctx *api.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return strat.Tick(ctx)
}

func toBar(c market.Candle) api.Candle {
	return api.Candle{Time: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
}

// run holds the mutable state of one backtest and serves as the strategy's Host.
type run struct {
	cfg   SimulatorConfig
	phase Phase

	current api.Candle
	history []api.Candle
	trades  []api.Trade
	pending []api.Order
	resting []api.Order

	position api.Position
	realized decimal.Decimal
	fees     decimal.Decimal
	closes   int
	wins     int
	losses   int
	rejected int

	equity   []EquityPoint
	peak     decimal.Decimal
	maxDD    decimal.Decimal
	maxDDPct float64
}

func (r *run) enter(p Phase) {
	logger.Debugf("[backtest] %s -> %s", r.phase, p)
	r.phase = p
}

func (r *run) Candle() api.Candle { return r.current }

// History 返回副本，策略改写返回值不影响后续 tick。
func (r *run) History() []api.Candle {
	out := make([]api.Candle, len(r.history))
	copy(out, r.history)
	return out
}

func (r *run) Trades() []api.Trade {
	out := make([]api.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func (r *run) Position() api.Position { return r.position }

// Cash is the balance left after paying for the open position.
func (r *run) Cash() decimal.Decimal {
	return r.cfg.InitialBalance.Add(r.realized).Sub(r.fees).Sub(r.position.Quantity.Mul(r.position.EntryPrice))
}

func (r *run) Submit(o api.Order) error {
	if r.phase != PhaseStreaming {
		return fmt.Errorf("orders can only be submitted during a tick")
	}
	r.pending = append(r.pending, o)
	return nil
}

func (r *run) applyPending(bar api.Candle) {
	orders := r.pending
	r.pending = nil
	for _, o := range orders {
		if o.Type == api.Limit {
			r.resting = append(r.resting, o)
			continue
		}
		price := r.slipped(bar.Close, o.Side)
		r.fill(o, price, bar.Time, r.cfg.Fees.Taker)
	}
}

// slipped 按滑点调整市价成交价，并向不利方向对齐价格步长。
func (r *run) slipped(close decimal.Decimal, side api.Side) decimal.Decimal {
	adj := close.Mul(r.cfg.SlippageBps).Div(bps)
	if side == api.Buy {
		return precision.RoundUp(close.Add(adj), r.cfg.Precision.PriceStep)
	}
	return precision.RoundDown(close.Sub(adj), r.cfg.Precision.PriceStep)
}

func (r *run) matchResting(bar api.Candle) {
	if len(r.resting) == 0 {
		return
	}
	kept := r.resting[:0]
	for _, o := range r.resting {
		limit := *o.Price
		switch {
		case o.Side == api.Buy && bar.Low.LessThanOrEqual(limit):
			r.fill(o, precision.RoundDown(limit, r.cfg.Precision.PriceStep), bar.Time, r.cfg.Fees.Maker)
		case o.Side == api.Sell && bar.High.GreaterThanOrEqual(limit):
			r.fill(o, precision.RoundUp(limit, r.cfg.Precision.PriceStep), bar.Time, r.cfg.Fees.Maker)
		default:
			kept = append(kept, o)
		}
	}
	r.resting = kept
}

func (r *run) fill(o api.Order, price decimal.Decimal, ts time.Time, feeRate decimal.Decimal) {
	qty := precision.RoundDown(o.Quantity, r.cfg.Precision.AmountStep)
	if !qty.IsPositive() || !price.IsPositive() {
		r.rejected++
		logger.Debugf("[backtest] 订单被拒绝: %s %s qty=%s price=%s", o.Type, o.Side, o.Quantity, price)
		return
	}
	fee := price.Mul(qty).Mul(feeRate)
	r.fees = r.fees.Add(fee)

	signed := qty
	if o.Side == api.Sell {
		signed = qty.Neg()
	}
	pos := r.position.Quantity
	switch {
	case pos.IsZero() || pos.Sign() == signed.Sign():
		total := pos.Abs().Add(qty)
		cost := pos.Abs().Mul(r.position.EntryPrice).Add(qty.Mul(price))
		r.position = api.Position{Quantity: pos.Add(signed), EntryPrice: cost.Div(total)}
	default:
		closing := decimal.Min(qty, pos.Abs())
		pnl := price.Sub(r.position.EntryPrice).Mul(closing)
		if pos.IsNegative() {
			pnl = pnl.Neg()
		}
		r.realized = r.realized.Add(pnl)
		r.closes++
		switch pnl.Sign() {
		case 1:
			r.wins++
		case -1:
			r.losses++
		}
		remaining := qty.Sub(closing)
		switch {
		case remaining.IsPositive():
			flipped := remaining
			if o.Side == api.Sell {
				flipped = remaining.Neg()
			}
			r.position = api.Position{Quantity: flipped, EntryPrice: price}
		case closing.Equal(pos.Abs()):
			r.position = api.Position{Quantity: decimal.Zero, EntryPrice: decimal.Zero}
		default:
			r.position.Quantity = pos.Add(signed)
		}
	}

	r.trades = append(r.trades, api.Trade{Order: o, Price: price, Quantity: qty, Fee: fee, Timestamp: ts})
	r.mark(ts, r.equityAt(price))
}

func (r *run) unrealizedAt(price decimal.Decimal) decimal.Decimal {
	if r.position.Quantity.IsZero() {
		return decimal.Zero
	}
	return price.Sub(r.position.EntryPrice).Mul(r.position.Quantity)
}

func (r *run) equityAt(price decimal.Decimal) decimal.Decimal {
	return r.cfg.InitialBalance.Add(r.realized).Sub(r.fees).Add(r.unrealizedAt(price))
}

// mark 追加权益曲线采样点并更新峰值与最大回撤。
func (r *run) mark(ts time.Time, equity decimal.Decimal) {
	r.equity = append(r.equity, EquityPoint{Time: ts, Equity: equity})
	if len(r.equity) == 1 || equity.GreaterThan(r.peak) {
		r.peak = equity
		return
	}
	dd := r.peak.Sub(equity)
	if dd.GreaterThan(r.maxDD) {
		r.maxDD = dd
		if r.peak.IsPositive() {
			r.maxDDPct = dd.Div(r.peak).InexactFloat64()
		}
	}
}

func (r *run) finalize() Result {
	last := r.current.Close
	unrealized := r.unrealizedAt(last)
	net := r.realized.Add(unrealized).Sub(r.fees)
	final := r.cfg.InitialBalance.Add(net)
	if n := len(r.equity); !r.current.Time.IsZero() && (!r.equity[n-1].Time.Equal(r.current.Time) || !r.equity[n-1].Equity.Equal(final)) {
		r.mark(r.current.Time, final)
	}

	stats := Stats{
		Trades:         len(r.trades),
		ClosingTrades:  r.closes,
		Wins:           r.wins,
		Losses:         r.losses,
		MaxDrawdown:    r.maxDD,
		MaxDrawdownPct: r.maxDDPct,
	}
	if r.closes > 0 {
		stats.WinRate = float64(r.wins) / float64(r.closes)
	}
	if r.cfg.InitialBalance.IsPositive() {
		stats.ReturnPct = net.Div(r.cfg.InitialBalance).InexactFloat64()
	}
	equity := make([]EquityPoint, len(r.equity))
	copy(equity, r.equity)
	return Result{
		Candles:        len(r.history),
		Trades:         r.Trades(),
		InitialBalance: r.cfg.InitialBalance,
		RealizedPnL:    r.realized,
		UnrealizedPnL:  unrealized,
		Fees:           r.fees,
		NetPnL:         net,
		FinalEquity:    final,
		FinalPosition:  r.position,
		RejectedOrders: r.rejected,
		UnfilledOrders: len(r.resting),
		Equity:         equity,
		Stats:          stats,
	}
}
