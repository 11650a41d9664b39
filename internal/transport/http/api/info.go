package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"candlelab/internal/apperr"
	"candlelab/internal/exchange"
	"candlelab/internal/market"
	"candlelab/internal/store"

	"github.com/gin-gonic/gin"
)

type infoHandler struct {
	exchange exchange.Client
	candles  store.CandleStore
}

func (h *infoHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, "OK")
}

func (h *infoHandler) exchanges(c *gin.Context) {
	c.JSON(http.StatusOK, h.exchange.Exchanges())
}

func requiredQuery(c *gin.Context, key string) (string, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return "", apperr.InvalidField(key, "")
	}
	return v, nil
}

func (h *infoHandler) symbols(c *gin.Context) {
	ex, err := requiredQuery(c, "exchange")
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.exchange.Symbols(c.Request.Context(), ex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *infoHandler) timeframes(c *gin.Context) {
	ex, err := requiredQuery(c, "exchange")
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.exchange.Timeframes(c.Request.Context(), ex)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func int64Query(c *gin.Context, key string) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.InvalidField(key, raw)
	}
	return v, nil
}

// queryCandles 查询本地 K 线；start/end 为毫秒时间戳，均可省略。
func (h *infoHandler) queryCandles(c *gin.Context) {
	var key market.Key
	var err error
	if key.Exchange, err = requiredQuery(c, "exchange"); err != nil {
		writeError(c, err)
		return
	}
	if err = knownExchange(h.exchange, key.Exchange); err != nil {
		writeError(c, err)
		return
	}
	if key.Symbol, err = requiredQuery(c, "symbol"); err != nil {
		writeError(c, err)
		return
	}
	if key.Timeframe, err = market.ParseTimeframe(c.Query("timeframe")); err != nil {
		writeError(c, err)
		return
	}
	start, err := int64Query(c, "start")
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := int64Query(c, "end")
	if err != nil {
		writeError(c, err)
		return
	}
	if start > 0 && end > 0 && end < start {
		writeError(c, apperr.Validation("end %d is before start %d", end, start))
		return
	}
	limit, err := int64Query(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.candles.Query(c.Request.Context(), key, start, end, int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []market.Candle{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *infoHandler) available(c *gin.Context) {
	list, err := h.candles.Available(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []market.AvailableCandles{}
	}
	c.JSON(http.StatusOK, list)
}
