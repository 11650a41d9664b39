package apihttp

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/backtest"
	"candlelab/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// equityChart 渲染回测权益曲线；失败任务使用部分结果。
func equityChart(engine *BacktestEngine) gin.HandlerFunc {
	routes := &taskRoutes[backtest.BacktestParams, backtest.Result]{engine: engine}
	return func(c *gin.Context) {
		tk, ok := routes.lookup(c)
		if !ok {
			return
		}
		res := tk.Result
		if res == nil {
			res = tk.Partial
		}
		if res == nil {
			writeError(c, apperr.NotFound("task %s has no result yet (status=%s)", tk.ID, tk.Status))
			return
		}
		html, err := renderEquity(tk, *res)
		if err != nil {
			writeError(c, apperr.Wrap(apperr.KindInternal, "render chart", err))
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", html)
	}
}

func renderEquity(tk task.Task[backtest.BacktestParams, backtest.Result], res backtest.Result) ([]byte, error) {
	p := tk.Params
	xs := make([]string, 0, len(res.Equity))
	ys := make([]opts.LineData, 0, len(res.Equity))
	for _, pt := range res.Equity {
		xs = append(xs, pt.Time.UTC().Format(time.DateTime))
		ys = append(ys, opts.LineData{Value: pt.Equity.InexactFloat64()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("%s equity", p.Strategy)}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s · %s %s %s", p.Strategy, p.Exchange, p.Symbol, p.Timeframe),
			Subtitle: fmt.Sprintf("net pnl %s · max drawdown %s · trades %d", res.NetPnL.StringFixed(2), res.Stats.MaxDrawdown.StringFixed(2), len(res.Trades)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries("equity", ys, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
