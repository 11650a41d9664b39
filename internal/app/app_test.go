package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"candlelab/internal/config"
	"candlelab/internal/exchange"
	"candlelab/internal/market"
	"candlelab/internal/store"
	"candlelab/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMarket struct{}

func (stubMarket) Name() string { return "binance" }

func (stubMarket) Symbols(context.Context) ([]string, error) { return []string{"BTC/USDT"}, nil }

func (stubMarket) Timeframes(context.Context) ([]market.Timeframe, error) {
	return []market.Timeframe{market.OneHour}, nil
}

func (stubMarket) Fees(context.Context, string) (market.TradingFees, error) {
	return market.TradingFees{Maker: decimal.RequireFromString("0.0002"), Taker: decimal.RequireFromString("0.0005")}, nil
}

func (stubMarket) Precision(context.Context, string) (market.MarketPrecision, error) {
	return market.MarketPrecision{}, nil
}

func (stubMarket) FetchCandles(context.Context, exchange.CandleQuery) ([]market.Candle, error) {
	return nil, nil
}

type closeTracker struct {
	*store.MemoryCandleStore
	closed *bool
}

func (c closeTracker) Close() error {
	*c.closed = true
	return nil
}

func loadConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	body := strings.Join([]string{
		"app:",
		"  http_addr: 127.0.0.1:0",
		"storage:",
		"  dsn: " + filepath.Join(dir, "db", "tasks.db"),
		"  candle_root: " + filepath.Join(dir, "candles"),
		"strategy:",
		"  root: " + filepath.Join(dir, "strategies"),
		"",
	}, "\n")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func buildApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewAppBuilder(cfg, WithExchange(exchange.NewRegistry(stubMarket{}))).Build(context.Background())
	require.NoError(t, err)
	return a
}

func call(t *testing.T, a *App, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, req)
	return rec
}

func waitStatus(t *testing.T, a *App, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := call(t, a, http.MethodGet, "/tasks/fetch/"+id, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		if got.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", id, want)
}

func TestBuildWiresHTTPAndTasks(t *testing.T) {
	cfg := loadConfig(t, t.TempDir())
	a := buildApp(t, cfg)
	t.Cleanup(a.Close)

	rec := call(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, a, http.MethodPost, "/tasks/fetch", `{"exchange":"binance","symbol":"BTC/USDT","timeframe":"1h"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitStatus(t, a, created.TaskID, "completed")

	rec = call(t, a, http.MethodGet, "/strategy/list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRestoreAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)

	first := buildApp(t, cfg)
	rec := call(t, first, http.MethodPost, "/tasks/fetch", `{"exchange":"binance","symbol":"ETH/USDT","timeframe":"1h"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	waitStatus(t, first, created.TaskID, "completed")
	first.fetch.Wait()
	first.Close()

	second := buildApp(t, cfg)
	t.Cleanup(second.Close)
	rec = call(t, second, http.MethodGet, "/tasks/fetch/"+created.TaskID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, second.restore(context.Background()))
	waitStatus(t, second, created.TaskID, "completed")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := loadConfig(t, t.TempDir())
	a := buildApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Server().Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never started listening")
	}

	// 保持一个 SSE 连接，关闭时不应等到 Shutdown 超时。
	resp, err := http.Get("http://" + a.Server().Addr() + "/tasks/fetch/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	begin := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(begin), 2*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.NotPanics(t, a.Close)
}

func TestCandleQueryStaysInsideCandleRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)
	a := buildApp(t, cfg)
	t.Cleanup(a.Close)

	rec := call(t, a, http.MethodGet, "/candles?exchange=../../escaped&symbol=X&timeframe=1h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = call(t, a, http.MethodGet, "/candles?exchange=binance&symbol=../../X&timeframe=1h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = call(t, a, http.MethodGet, "/candles?exchange=binance&symbol=ETH/USDT&timeframe=1h", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := os.Stat(filepath.Join(dir, "escaped"))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(cfg.Storage.CandleRoot)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestBuildReleasesStoresOnFailure(t *testing.T) {
	cfg := loadConfig(t, t.TempDir())
	closed := false
	b := NewAppBuilder(cfg, WithExchange(exchange.NewRegistry(stubMarket{})), WithCandleStore(closeTracker{MemoryCandleStore: store.NewMemoryCandleStore(), closed: &closed}))
	b.strategyFn = func(config.StrategyConfig) (*strategy.Manager, error) {
		return nil, errors.New("no workspace")
	}
	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workspace")
	assert.True(t, closed)
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestStartupSummary(t *testing.T) {
	cfg := loadConfig(t, t.TempDir())
	cfg.Storage.DSN = "postgres://candle:secret@db:5432/candlelab"
	s := newStartupSummary(cfg, []string{"binance"})

	var buf bytes.Buffer
	s.Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, "127.0.0.1:0")
	assert.Contains(t, out, "binance")
	assert.Contains(t, out, "candle:***@db:5432")
	assert.NotContains(t, out, "secret")
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"data/db/tasks.db":                     "data/db/tasks.db",
		"postgres://u:p@h/db":                  "postgres://u:***@h/db",
		"postgres://u@h/db":                    "postgres://u@h/db",
		"host=localhost user=u dbname=candles": "host=localhost user=u dbname=candles",
	}
	for in, want := range cases {
		assert.Equal(t, want, redactDSN(in), in)
	}
}
