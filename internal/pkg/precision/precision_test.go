package precision

import (
	"testing"

	"candlelab/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name  string
		value string
		step  string
		down  string
		up    string
	}{
		{"amount step", "1.23456", "0.001", "1.234", "1.235"},
		{"already aligned", "1.5", "0.5", "1.5", "1.5"},
		{"tick size", "27345.67", "0.1", "27345.6", "27345.7"},
		{"integer step", "17", "5", "15", "20"},
		{"negative value", "-1.25", "0.1", "-1.2", "-1.3"},
		{"tiny step", "0.000000123456789", "0.00000001", "0.00000012", "0.00000013"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := MustParse(tt.value)
			step := MustParse(tt.step)
			assert.True(t, MustParse(tt.down).Equal(RoundDown(v, step)), "down got %s", RoundDown(v, step))
			assert.True(t, MustParse(tt.up).Equal(RoundUp(v, step)), "up got %s", RoundUp(v, step))
		})
	}
}

func TestZeroStepIsIdentity(t *testing.T) {
	v := MustParse("3.14159265358979")
	assert.True(t, v.Equal(RoundDown(v, decimal.Zero)))
	assert.True(t, v.Equal(RoundUp(v, decimal.Zero)))
}

func TestRoundedValueBracketsInput(t *testing.T) {
	steps := []string{"0.01", "0.25", "3", "0.0001"}
	values := []string{"0", "0.005", "1.999", "42.4242", "100", "-7.77"}
	for _, s := range steps {
		step := MustParse(s)
		for _, raw := range values {
			v := MustParse(raw)
			down := RoundDown(v, step)
			up := RoundUp(v, step)
			lo, hi := down, up
			if lo.GreaterThan(hi) {
				lo, hi = hi, lo
			}
			assert.True(t, v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi), "%s step %s -> [%s,%s]", raw, s, down, up)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal(" 0.0004 ", "maker fee")
	require.NoError(t, err)
	assert.True(t, MustParse("0.0004").Equal(d))

	_, err = ParseDecimal("1.2.3", "maker fee")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "maker fee")
}
