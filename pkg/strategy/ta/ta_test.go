package ta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 5)
	assert.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)

	_, ok = SMA([]float64{1, 2}, 5)
	assert.False(t, ok)
}

func TestEMAFlatSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	v, ok := EMA(closes, 10)
	assert.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9)
}

func TestRSIRisingSeries(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	v, ok := RSI(closes, 14)
	assert.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-6)

	_, ok = RSI(closes[:14], 14)
	assert.False(t, ok)
}

func TestCrossOver(t *testing.T) {
	assert.True(t, CrossOver([]float64{1, 3}, []float64{2, 2}))
	assert.False(t, CrossOver([]float64{3, 3}, []float64{2, 2}))
	assert.True(t, CrossUnder([]float64{3, 1}, []float64{2, 2}))
	assert.False(t, CrossOver([]float64{1}, []float64{2}))
}

func TestMACDNeedsHistory(t *testing.T) {
	_, ok := MACD(make([]float64, 10), 12, 26, 9)
	assert.False(t, ok)
}
