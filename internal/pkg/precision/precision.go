// Package precision 提供交易所步长对齐的精确十进制运算。
package precision

import (
	"strings"

	"candlelab/internal/apperr"

	"github.com/shopspring/decimal"
)

// RoundDown truncates value toward zero to a multiple of step.
// A zero step means no rounding is configured and value is returned as is.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	return q.Mul(step)
}

// RoundUp rounds value away from zero to a multiple of step.
func RoundUp(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	q, r := value.QuoRem(step, 0)
	if !r.IsZero() {
		if value.Sign()*step.Sign() < 0 {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.Mul(step)
}

// ParseDecimal 解析十进制文本，失败时返回指明字段的校验错误。
func ParseDecimal(text, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Zero, apperr.InvalidField(field, text)
	}
	return d, nil
}

// MustParse is for constants and tests only.
func MustParse(text string) decimal.Decimal {
	return decimal.RequireFromString(text)
}
