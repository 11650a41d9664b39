// Package apihttp 暴露任务、行情与策略工作区的 HTTP 接口。
package apihttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"candlelab/internal/backtest"
	"candlelab/internal/exchange"
	"candlelab/internal/logger"
	"candlelab/internal/store"
	"candlelab/internal/task"

	"github.com/gin-gonic/gin"
)

type (
	FetchEngine    = task.Engine[backtest.FetchParams, backtest.FetchResult]
	BacktestEngine = task.Engine[backtest.BacktestParams, backtest.Result]
)

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr        string
	Exchange    exchange.Client
	Candles     store.CandleStore
	Fetch       *FetchEngine
	Backtest    *BacktestEngine
	Strategies  StrategyWorkspace
	CORSOrigins []string
}

// Server 提供全部 HTTP API。
type Server struct {
	addr   string
	router *gin.Engine

	mu    sync.Mutex
	bound     string
	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer 构建 HTTP Server 并注册路由。
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Exchange == nil:
		return nil, errors.New("exchange 不能为空")
	case cfg.Candles == nil:
		return nil, errors.New("candle store 不能为空")
	case cfg.Fetch == nil || cfg.Backtest == nil:
		return nil, errors.New("task engine 不能为空")
	case cfg.Strategies == nil:
		return nil, errors.New("strategy workspace 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), cors(cfg.CORSOrigins))

	info := &infoHandler{exchange: cfg.Exchange, candles: cfg.Candles}
	router.GET("/health", info.health)
	router.GET("/exchanges", info.exchanges)
	router.GET("/symbols", info.symbols)
	router.GET("/timeframes", info.timeframes)
	router.GET("/candles", info.queryCandles)
	router.GET("/candles/available", info.available)

	fetch := &taskRoutes[backtest.FetchParams, backtest.FetchResult]{
		engine: cfg.Fetch,
		schema: schemas.fetch,
		validate: func(p backtest.FetchParams) error {
			if err := p.Validate(); err != nil {
				return err
			}
			return knownExchange(cfg.Exchange, p.Exchange)
		},
	}
	fetch.register(router.Group("/tasks/fetch"))

	bt := &taskRoutes[backtest.BacktestParams, backtest.Result]{
		engine: cfg.Backtest,
		schema: schemas.backtest,
		validate: func(p backtest.BacktestParams) error {
			if err := p.Validate(); err != nil {
				return err
			}
			return knownExchange(cfg.Exchange, p.Exchange)
		},
	}
	btGroup := router.Group("/tasks/backtest")
	bt.register(btGroup)
	btGroup.GET("/:id/chart", equityChart(cfg.Backtest))

	sh := &strategyHandler{ws: cfg.Strategies, addSchema: schemas.strategyAdd}
	sg := router.Group("/strategy")
	sg.GET("/list", sh.list)
	sg.POST("/add", sh.add)
	sg.GET("/source/get", sh.source)
	sg.POST("/source/save", sh.save)
	sg.GET("/source/delete", sh.remove)
	sg.GET("/source/move", sh.move)

	return &Server{addr: cfg.Addr, router: router, ready: make(chan struct{})}, nil
}

// Handler 返回底层路由，便于测试或挂载到其他 server。
func (s *Server) Handler() http.Handler { return s.router }

// Addr 返回监听地址；Start 之后为实际绑定的地址（":0" 时含系统分配的端口）。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// Ready 在 Start 完成监听后关闭。
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	addr := s.addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 监听 %s", ln.Addr())

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requestLogger 记录每个请求的状态码与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("[http] %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// cors 允许配置中的来源；未配置时放开全部来源。
func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0 || allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
