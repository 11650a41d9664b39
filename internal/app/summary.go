package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"candlelab/internal/config"
)

// StartupSummary 汇总启动时生效的关键配置。
type StartupSummary struct {
	Env         string
	HTTPAddr    string
	Exchanges   []string
	Storage     StorageSummary
	Strategy    StrategySummary
	Backtest    BacktestSummary
	BusCapacity int
}

type StorageSummary struct {
	Driver     string
	DSN        string
	CandleRoot string
}

type StrategySummary struct {
	Root       string
	HostModule string
}

type BacktestSummary struct {
	InitialBalance float64
	SlippageBps    float64
	MaxConcurrent  int
	PageLimit      int
}

func newStartupSummary(cfg *config.Config, exchanges []string) *StartupSummary {
	return &StartupSummary{
		Env:       cfg.App.Env,
		HTTPAddr:  cfg.App.HTTPAddr,
		Exchanges: exchanges,
		Storage: StorageSummary{
			Driver:     cfg.Storage.Driver,
			DSN:        redactDSN(cfg.Storage.DSN),
			CandleRoot: cfg.Storage.CandleRoot,
		},
		Strategy: StrategySummary{Root: cfg.Strategy.Root, HostModule: cfg.Strategy.HostModule},
		Backtest: BacktestSummary{
			InitialBalance: cfg.Backtest.InitialBalance,
			SlippageBps:    cfg.Backtest.SlippageBps,
			MaxConcurrent:  cfg.Backtest.MaxConcurrent,
			PageLimit:      cfg.Exchange.PageLimit,
		},
		BusCapacity: cfg.Tasks.BusCapacity,
	}
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  交易所: %s\n", formatList(s.Exchanges))
	fmt.Fprintf(w, "  事件缓冲: %d\n", s.BusCapacity)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[存储 (STORAGE)]")
	fmt.Fprintf(w, "  任务快照: %s %s\n", s.Storage.Driver, s.Storage.DSN)
	fmt.Fprintf(w, "  K线目录: %s\n", s.Storage.CandleRoot)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[策略与回测 (STRATEGY / BACKTEST)]")
	fmt.Fprintf(w, "  策略目录: %s (module %s)\n", s.Strategy.Root, s.Strategy.HostModule)
	fmt.Fprintf(w, "  初始资金: %.2f\n", s.Backtest.InitialBalance)
	fmt.Fprintf(w, "  滑点(bps): %.2f\n", s.Backtest.SlippageBps)
	fmt.Fprintf(w, "  并发上限: %d\n", s.Backtest.MaxConcurrent)
	fmt.Fprintf(w, "  分页大小: %d\n", s.Backtest.PageLimit)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "(无)"
	}
	return strings.Join(items, ", ")
}

// redactDSN 隐去 postgres DSN 中的密码。
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	cred := dsn[scheme+3 : at]
	user, _, found := strings.Cut(cred, ":")
	if !found {
		return dsn
	}
	return dsn[:scheme+3] + user + ":***" + dsn[at:]
}
