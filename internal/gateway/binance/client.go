package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/logger"
	"candlelab/internal/market"
	"candlelab/internal/pkg/circuit"
	"candlelab/internal/pkg/precision"
	symbolpkg "candlelab/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	maxKlineLimit     = 1500
	defaultKlineLimit = 500
)

type symbolMeta struct {
	name      string
	precision market.MarketPrecision
}

// Client 基于 go-binance 实现 exchange.Market（USDⓈ-M 合约公共接口）。
type Client struct {
	cfg     Config
	api     *futures.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker

	mu       sync.Mutex
	loadedAt time.Time
	symbols  map[string]symbolMeta
}

var _ exchange.Market = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	api := futures.NewClient("", "")
	api.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	api.HTTPClient = httpClient
	perSec := rate.Limit(float64(final.RateLimitPerMin) / 60.0)
	return &Client{
		cfg:     final,
		api:     api,
		limiter: rate.NewLimiter(perSec, 10),
		breaker: circuit.New("binance:"+final.Name, final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

func (c *Client) Name() string { return c.cfg.Name }

// call 统一做限速与熔断；熔断打开时直接失败。
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.breaker.Do(fn)
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%s: %w", c.cfg.Name, err)
	}
	return err
}

func (c *Client) loadSymbols(ctx context.Context) (map[string]symbolMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.symbols != nil && time.Since(c.loadedAt) < c.cfg.MetadataTTL {
		return c.symbols, nil
	}
	var info *futures.ExchangeInfo
	err := c.call(ctx, func() error {
		var err error
		info, err = c.api.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load exchange info: %w", err)
	}
	out := make(map[string]symbolMeta, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		name := symbolpkg.Symbol{Base: s.BaseAsset, Quote: s.QuoteAsset}.String()
		if name == "" {
			name = symbolpkg.Normalize(s.Symbol)
		}
		meta := symbolMeta{name: name}
		if pf := s.PriceFilter(); pf != nil && pf.TickSize != "" {
			step, err := precision.ParseDecimal(pf.TickSize, "price precision")
			if err != nil {
				return nil, err
			}
			meta.precision.PriceStep = step
		}
		if lf := s.LotSizeFilter(); lf != nil && lf.StepSize != "" {
			step, err := precision.ParseDecimal(lf.StepSize, "amount precision")
			if err != nil {
				return nil, err
			}
			meta.precision.AmountStep = step
		}
		out[symbolpkg.ToBinance(name)] = meta
	}
	c.symbols = out
	c.loadedAt = time.Now()
	logger.Infof("[exchange] %s 加载 %d 个交易对", c.cfg.Name, len(out))
	return out, nil
}

func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	metas, err := c.loadSymbols(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		out = append(out, m.name)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) Timeframes(context.Context) ([]market.Timeframe, error) {
	return market.AllTimeframes(), nil
}

func (c *Client) Fees(ctx context.Context, symbol string) (market.TradingFees, error) {
	if _, err := c.lookup(ctx, symbol); err != nil {
		return market.TradingFees{}, err
	}
	return market.TradingFees{Maker: c.cfg.MakerFee, Taker: c.cfg.TakerFee}, nil
}

func (c *Client) Precision(ctx context.Context, symbol string) (market.MarketPrecision, error) {
	meta, err := c.lookup(ctx, symbol)
	if err != nil {
		return market.MarketPrecision{}, err
	}
	return meta.precision, nil
}

func (c *Client) lookup(ctx context.Context, symbol string) (symbolMeta, error) {
	metas, err := c.loadSymbols(ctx)
	if err != nil {
		return symbolMeta{}, err
	}
	meta, ok := metas[symbolpkg.ToBinance(symbol)]
	if !ok {
		return symbolMeta{}, apperr.Validation("invalid symbol: %s", symbol)
	}
	return meta, nil
}

func (c *Client) FetchCandles(ctx context.Context, q exchange.CandleQuery) ([]market.Candle, error) {
	if q.Symbol == "" {
		return nil, apperr.Validation("symbol is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultKlineLimit
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	svc := c.api.NewKlinesService().
		Symbol(symbolpkg.ToBinance(q.Symbol)).
		Interval(q.Timeframe.String()).
		Limit(limit)
	if q.Since != nil {
		svc = svc.StartTime(*q.Since)
	}
	var kls []*futures.Kline
	err := c.call(ctx, func() error {
		var err error
		kls, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	unified := symbolpkg.Normalize(q.Symbol)
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		candle, err := c.toCandle(kl, unified, q.Timeframe)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	return out, nil
}

func (c *Client) toCandle(kl *futures.Kline, symbol string, tf market.Timeframe) (market.Candle, error) {
	candle := market.Candle{
		Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
		Exchange:  c.cfg.Name,
		Symbol:    symbol,
		Timeframe: tf,
	}
	fields := []struct {
		raw   string
		field string
		dst   *decimal.Decimal
	}{
		{kl.Open, "open price", &candle.Open},
		{kl.High, "high price", &candle.High},
		{kl.Low, "low price", &candle.Low},
		{kl.Close, "close price", &candle.Close},
		{kl.Volume, "volume", &candle.Volume},
	}
	for _, f := range fields {
		d, err := precision.ParseDecimal(f.raw, f.field)
		if err != nil {
			return market.Candle{}, err
		}
		*f.dst = d
	}
	return candle, nil
}
