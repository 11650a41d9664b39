package market

import (
	"sort"
	"strings"
	"time"

	"candlelab/internal/apperr"
)

// Timeframe 是 K 线周期的规范字符串形式，例如 "1m"、"4h"、"1M"。
type Timeframe string

const (
	OneMinute      Timeframe = "1m"
	ThreeMinutes   Timeframe = "3m"
	FiveMinutes    Timeframe = "5m"
	FifteenMinutes Timeframe = "15m"
	ThirtyMinutes  Timeframe = "30m"
	OneHour        Timeframe = "1h"
	TwoHours       Timeframe = "2h"
	FourHours      Timeframe = "4h"
	SixHours       Timeframe = "6h"
	EightHours     Timeframe = "8h"
	TwelveHours    Timeframe = "12h"
	OneDay         Timeframe = "1d"
	ThreeDays      Timeframe = "3d"
	OneWeek        Timeframe = "1w"
	OneMonth       Timeframe = "1M"
)

var timeframeDurations = map[Timeframe]time.Duration{
	OneMinute:      time.Minute,
	ThreeMinutes:   3 * time.Minute,
	FiveMinutes:    5 * time.Minute,
	FifteenMinutes: 15 * time.Minute,
	ThirtyMinutes:  30 * time.Minute,
	OneHour:        time.Hour,
	TwoHours:       2 * time.Hour,
	FourHours:      4 * time.Hour,
	SixHours:       6 * time.Hour,
	EightHours:     8 * time.Hour,
	TwelveHours:    12 * time.Hour,
	OneDay:         24 * time.Hour,
	ThreeDays:      72 * time.Hour,
	OneWeek:        7 * 24 * time.Hour,
	OneMonth:       30 * 24 * time.Hour,
}

// ParseTimeframe accepts the canonical form only. "1M" (month) and "1m"
// (minute) differ by case, so the input is trimmed but not lower-cased.
func ParseTimeframe(input string) (Timeframe, error) {
	tf := Timeframe(strings.TrimSpace(input))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", apperr.InvalidField("timeframe", input)
	}
	return tf, nil
}

func (tf Timeframe) String() string { return string(tf) }

func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration 返回周期长度；未知周期返回 0。
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

func (tf Timeframe) Millis() int64 {
	return tf.Duration().Milliseconds()
}

func (tf Timeframe) MarshalText() ([]byte, error) {
	if tf != "" && !tf.Valid() {
		return nil, apperr.InvalidField("timeframe", string(tf))
	}
	return []byte(tf), nil
}

func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// AlignDown 将毫秒时间戳向下对齐到周期网格。
func (tf Timeframe) AlignDown(ms int64) int64 {
	step := tf.Millis()
	if step <= 0 {
		return ms
	}
	rem := ms % step
	if rem < 0 {
		rem += step
	}
	return ms - rem
}

// ExpectedCandles counts grid points in the closed range [start, end].
func (tf Timeframe) ExpectedCandles(start, end int64) int64 {
	step := tf.Millis()
	if end < start || step <= 0 {
		return 0
	}
	return (end-start)/step + 1
}

// AllTimeframes 按时长升序返回所有支持的周期。
func AllTimeframes() []Timeframe {
	out := make([]Timeframe, 0, len(timeframeDurations))
	for tf := range timeframeDurations {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration() < out[j].Duration() })
	return out
}
