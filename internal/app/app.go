package app

import (
	"context"
	"fmt"

	"candlelab/internal/config"
	"candlelab/internal/logger"
	"candlelab/internal/strategy"
	apihttp "candlelab/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→恢复历史任务→启动 HTTP。
type App struct {
	cfg        *config.Config
	http       *apihttp.Server
	fetch      *apihttp.FetchEngine
	backtest   *apihttp.BacktestEngine
	strategies *strategy.Manager
	cancel     context.CancelFunc
	closers    []func() error
	Summary    *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 恢复持久化的任务与策略注册表，然后对外提供 HTTP 服务直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.restore(ctx); err != nil {
		return err
	}

	// ctx 取消时立即结束事件流，否则打开的 SSE/WS 连接会拖住 Shutdown。
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(gctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()

	// HTTP 异常退出时同样结束事件流，并等待在途任务写完快照。
	a.cancel()
	a.fetch.Wait()
	a.backtest.Wait()
	logger.Infof("[app] 已停止")
	return err
}

func (a *App) restore(ctx context.Context) error {
	n, err := a.fetch.Restore(ctx)
	if err != nil {
		return err
	}
	m, err := a.backtest.Restore(ctx)
	if err != nil {
		return err
	}
	logger.Infof("[app] 恢复历史任务 fetch=%d backtest=%d", n, m)
	if _, err := a.strategies.Rescan(); err != nil {
		logger.Warnf("[app] 策略目录扫描失败: %v", err)
	}
	return nil
}

// WatchConfig 监听配置文件，热更新日志级别与格式；其余配置需重启生效。
func (a *App) WatchConfig(path string) error {
	return config.Watch(path, func(cfg *config.Config) {
		logger.SetLevel(cfg.App.LogLevel)
		logger.SetFormat(cfg.App.LogFormat)
		logger.Infof("[config] log_level=%s log_format=%s", cfg.App.LogLevel, cfg.App.LogFormat)
	})
}

// Close 释放存储连接，可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	closers := a.closers
	a.closers = nil
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warnf("[app] 关闭资源失败: %v", err)
		}
	}
}

// Server exposes the HTTP server for tests and embedding.
func (a *App) Server() *apihttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
