// Package symbol 在统一格式 BASE/QUOTE 与交易所原生格式之间转换。
package symbol

import "strings"

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

// String returns the unified BASE/QUOTE form, or "" when incomplete.
func (s Symbol) String() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回无分隔符形式，例如 BTCUSDT。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse understands "btc/usdt", "BTC/USDT:USDT" and "BTCUSDT".
func Parse(raw string) Symbol {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Symbol{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize 返回统一格式；无法识别时返回去空白的大写原文。
func Normalize(raw string) string {
	if s := Parse(raw).String(); s != "" {
		return s
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

func ToBinance(raw string) string {
	if s := Parse(raw).Binance(); s != "" {
		return s
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "/", ""))
}
