// Package ta wraps go-talib for strategy plugins. Every helper returns the
// latest value and false when the series is too short to produce one.
package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return lastValid(talib.Ema(closes, period))
}

func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return lastValid(talib.Sma(closes, period))
}

// RSI needs period+1 closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}
	return lastValid(talib.Rsi(closes, period))
}

type MACDValue struct {
	MACD   float64
	Signal float64
	Hist   float64
}

func MACD(closes []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return MACDValue{}, false
	}
	macd, sig, hist := talib.Macd(closes, fast, slow, signal)
	m, ok1 := lastValid(macd)
	s, ok2 := lastValid(sig)
	h, ok3 := lastValid(hist)
	return MACDValue{MACD: m, Signal: s, Hist: h}, ok1 && ok2 && ok3
}

func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period || len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, false
	}
	return lastValid(talib.Atr(highs, lows, closes, period))
}

// CrossOver reports whether fast crossed above slow on the last bar.
func CrossOver(fast, slow []float64) bool {
	n := len(fast)
	if n < 2 || len(slow) != n {
		return false
	}
	return fast[n-2] <= slow[n-2] && fast[n-1] > slow[n-1]
}

// CrossUnder reports whether fast crossed below slow on the last bar.
func CrossUnder(fast, slow []float64) bool {
	return CrossOver(slow, fast)
}

// EMASeries 返回完整 EMA 序列，talib 以 0 填充的前导值保留原位便于与 closes 对齐。
func EMASeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}
