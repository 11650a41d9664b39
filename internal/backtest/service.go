package backtest

import (
	"context"
	"fmt"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/logger"
	"candlelab/internal/market"
	"candlelab/internal/store"
	"candlelab/internal/task"

	"github.com/shopspring/decimal"
)

type ServiceConfig struct {
	Exchange       exchange.Client
	Store          store.CandleStore
	Strategies     Loader
	PageLimit      int
	SlippageBps    decimal.Decimal
	InitialBalance decimal.Decimal
	MaxConcurrent  int
}

// Service 实现两类任务的执行体：Fetch 与 Backtest 可直接作为 task.Work 使用。
type Service struct {
	exchange       exchange.Client
	store          store.CandleStore
	strategies     Loader
	pageLimit      int
	slippageBps    decimal.Decimal
	initialBalance decimal.Decimal
	now            func() time.Time

	sem chan struct{}
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange client 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	initial := cfg.InitialBalance
	if initial.IsZero() {
		initial = decimal.NewFromInt(10000)
	}
	return &Service{
		exchange:       cfg.Exchange,
		store:          cfg.Store,
		strategies:     cfg.Strategies,
		pageLimit:      pageLimit,
		slippageBps:    cfg.SlippageBps,
		initialBalance: initial,
		now:            func() time.Time { return time.Now().UTC() },
		sem:            make(chan struct{}, maxConcurrent),
	}, nil
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) feed() *Feed {
	return &Feed{Exchange: s.exchange, Store: s.store, PageLimit: s.pageLimit, Now: s.now}
}

// Fetch 拉取 K 线写入本地存储，进度为已覆盖时间占目标区间的比例。
func (s *Service) Fetch(ctx context.Context, p FetchParams, progress task.ProgressFunc) (FetchResult, error) {
	var res FetchResult
	if err := p.Validate(); err != nil {
		return res, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return res, err
	}
	defer release()

	key := p.Key()
	start := p.Start
	if start == nil {
		if series, found, err := s.store.Series(ctx, key); err != nil {
			return res, apperr.Execution("read candle store", err)
		} else if found {
			resume := series.Last.Add(key.Timeframe.Duration())
			start = &resume
		}
	}
	from, to, ok, err := s.feed().Resolve(ctx, key, start, p.End)
	if err != nil {
		return res, err
	}
	if !ok {
		logger.Infof("[fetch] %s %s %s 无新数据", key.Exchange, key.Symbol, key.Timeframe)
		return res, nil
	}
	logger.Infof("[fetch] %s %s %s 开始拉取 [%d, %d]", key.Exchange, key.Symbol, key.Timeframe, from, to)

	span := float64(to - from + key.Timeframe.Millis())
	err = exchange.FetchRange(ctx, s.exchange, key.Exchange, key.Symbol, key.Timeframe, from, to, s.pageLimit, func(page []market.Candle) error {
		n, err := s.store.Insert(ctx, page)
		if err != nil {
			return fmt.Errorf("store candles: %w", err)
		}
		res.CandlesFetched += n
		first, last := page[0].Timestamp, page[len(page)-1].Timestamp
		if res.First == nil {
			res.First = &first
		}
		res.Last = &last
		progress(float64(last.UnixMilli()-from+key.Timeframe.Millis()) / span)
		return nil
	})
	if err != nil {
		return res, task.WithPartial(res, apperr.Execution("fetch candles", err))
	}
	logger.Infof("[fetch] %s %s %s 完成，共 %d 根", key.Exchange, key.Symbol, key.Timeframe, res.CandlesFetched)
	return res, nil
}

// Backtest 加载策略、准备 K 线并运行模拟。
func (s *Service) Backtest(ctx context.Context, p BacktestParams, progress task.ProgressFunc) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if s.strategies == nil {
		return Result{}, apperr.Internal("no strategy loader configured")
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	key := p.Key()
	fees, err := s.exchange.Fees(ctx, key.Exchange, key.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("fees %s %s: %w", key.Exchange, key.Symbol, err)
	}
	prec, err := s.exchange.Precision(ctx, key.Exchange, key.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("precision %s %s: %w", key.Exchange, key.Symbol, err)
	}
	candles, err := s.feed().Candles(ctx, key, p.Start, p.End)
	if err != nil {
		return Result{}, err
	}

	strat, err := s.strategies.Load(p.Strategy)
	if err != nil {
		return Result{}, err
	}
	defer strat.Release()

	initial := s.initialBalance
	if p.InitialBalance != nil {
		initial = *p.InitialBalance
	}
	sim := NewSimulator(SimulatorConfig{
		Fees:           fees,
		Precision:      prec,
		SlippageBps:    s.slippageBps,
		InitialBalance: initial,
	})
	logger.Infof("[backtest] %s on %s %s %s，共 %d 根 K 线", p.Strategy, key.Exchange, key.Symbol, key.Timeframe, len(candles))
	res, err := sim.Run(ctx, strat, candles, progress)
	if err != nil {
		return res, err
	}
	logger.Infof("[backtest] %s 完成：成交 %d 笔，净收益 %s", p.Strategy, len(res.Trades), res.NetPnL)
	return res, nil
}
