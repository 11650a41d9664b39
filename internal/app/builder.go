package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"candlelab/internal/backtest"
	"candlelab/internal/config"
	"candlelab/internal/exchange"
	"candlelab/internal/gateway"
	"candlelab/internal/logger"
	"candlelab/internal/store"
	"candlelab/internal/store/candles"
	"candlelab/internal/store/gormstore"
	"candlelab/internal/strategy"
	"candlelab/internal/task"
	apihttp "candlelab/internal/transport/http/api"

	"github.com/shopspring/decimal"
)

// AppBuilder 按配置组装各组件；函数字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	exchangeFn      func(*config.Config) (exchange.Client, error)
	snapshotStoreFn func(config.StorageConfig) (task.SnapshotStore, error)
	candleStoreFn   func(config.StorageConfig) (store.CandleStore, error)
	strategyFn      func(config.StrategyConfig) (*strategy.Manager, error)
	httpFn          func(apihttp.Config) (*apihttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithExchange 使用给定的行情客户端，跳过按配置创建交易所。
func WithExchange(client exchange.Client) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(*config.Config) (exchange.Client, error) { return client, nil }
	}
}

func WithSnapshotStore(s task.SnapshotStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.snapshotStoreFn = func(config.StorageConfig) (task.SnapshotStore, error) { return s, nil }
	}
}

func WithCandleStore(s store.CandleStore) AppBuilderOption {
	return func(b *AppBuilder) {
		b.candleStoreFn = func(config.StorageConfig) (store.CandleStore, error) { return s, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:             cfg,
		exchangeFn:      buildExchange,
		snapshotStoreFn: buildSnapshotStore,
		candleStoreFn:   buildCandleStore,
		strategyFn:      buildStrategyManager,
		httpFn:          apihttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildExchange(cfg *config.Config) (exchange.Client, error) {
	reg, err := gateway.NewExchangeFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func buildSnapshotStore(cfg config.StorageConfig) (task.SnapshotStore, error) {
	s, err := gormstore.Open(gormstore.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		return nil, fmt.Errorf("初始化任务快照存储失败: %w", err)
	}
	logger.Infof("✓ 任务快照存储 %s 已就绪", cfg.Driver)
	return s, nil
}

func buildCandleStore(cfg config.StorageConfig) (store.CandleStore, error) {
	s, err := candles.NewStore(cfg.CandleRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	logger.Infof("✓ K 线存储目录 %s", cfg.CandleRoot)
	return s, nil
}

func buildStrategyManager(cfg config.StrategyConfig) (*strategy.Manager, error) {
	hostDir := strings.TrimSpace(cfg.HostModuleDir)
	if hostDir != "" {
		abs, err := filepath.Abs(hostDir)
		if err != nil {
			return nil, err
		}
		hostDir = abs
	}
	return strategy.NewManager(strategy.Config{
		Root:          cfg.Root,
		HostModule:    cfg.HostModule,
		HostModuleDir: hostDir,
		Builder:       strategy.GoBuilder{GoBinary: cfg.GoBinary},
	})
}

// Build 创建全部依赖但不启动任何服务。ctx 是任务引擎的根上下文。
func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	client, err := b.exchangeFn(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 已启用交易所: %v", client.Exchanges())

	snapshots, err := b.snapshotStoreFn(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if c, ok := snapshots.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	candleStore, err := b.candleStoreFn(cfg.Storage)
	if err != nil {
		return nil, err
	}
	closers = append(closers, candleStore.Close)

	manager, err := b.strategyFn(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("初始化策略工作区失败: %w", err)
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Exchange:       client,
		Store:          candleStore,
		Strategies:     backtest.ManagerLoader(manager),
		PageLimit:      cfg.Exchange.PageLimit,
		SlippageBps:    decimal.NewFromFloat(cfg.Backtest.SlippageBps),
		InitialBalance: decimal.NewFromFloat(cfg.Backtest.InitialBalance),
		MaxConcurrent:  cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	root, cancel := context.WithCancel(ctx)
	closers = append(closers, func() error { cancel(); return nil })

	fetch, err := task.NewEngine(task.Config[backtest.FetchParams, backtest.FetchResult]{
		Kind:        task.KindFetchCandles,
		Work:        svc.Fetch,
		Store:       snapshots,
		BusCapacity: cfg.Tasks.BusCapacity,
		Context:     root,
	})
	if err != nil {
		return nil, err
	}
	bt, err := task.NewEngine(task.Config[backtest.BacktestParams, backtest.Result]{
		Kind:        task.KindBacktest,
		Work:        svc.Backtest,
		Store:       snapshots,
		BusCapacity: cfg.Tasks.BusCapacity,
		Context:     root,
	})
	if err != nil {
		return nil, err
	}

	server, err := b.httpFn(apihttp.Config{
		Addr:        cfg.App.HTTPAddr,
		Exchange:    client,
		Candles:     candleStore,
		Fetch:       fetch,
		Backtest:    bt,
		Strategies:  manager,
		CORSOrigins: cfg.App.CORSOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:        cfg,
		http:       server,
		fetch:      fetch,
		backtest:   bt,
		strategies: manager,
		cancel:     cancel,
		closers:    closers,
		Summary:    newStartupSummary(cfg, client.Exchanges()),
	}, nil
}
