package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"candlelab/internal/market"
)

// MemoryCandleStore keeps series in memory, sharded by key. Used when no
// candle root is configured and in tests.
type MemoryCandleStore struct {
	shards []candleShard
}

type candleShard struct {
	mu   sync.RWMutex
	data map[market.Key][]market.Candle
}

const defaultShardCount = 32

var _ CandleStore = (*MemoryCandleStore)(nil)

func NewMemoryCandleStore() *MemoryCandleStore {
	return newMemoryCandleStore(defaultShardCount)
}

func newMemoryCandleStore(shards int) *MemoryCandleStore {
	if shards <= 0 {
		shards = 1
	}
	out := &MemoryCandleStore{shards: make([]candleShard, shards)}
	for i := range out.shards {
		out.shards[i] = candleShard{data: make(map[market.Key][]market.Candle)}
	}
	return out
}

func (s *MemoryCandleStore) shardFor(k market.Key) *candleShard {
	idx := hashKey(k.Exchange+"|"+k.Symbol+"|"+string(k.Timeframe)) % uint32(len(s.shards))
	return &s.shards[idx]
}

func (s *MemoryCandleStore) Insert(_ context.Context, candles []market.Candle) (int, error) {
	groups := make(map[market.Key][]market.Candle)
	for _, c := range candles {
		if c.Exchange == "" || c.Symbol == "" || c.Timeframe == "" {
			return 0, errors.New("exchange/symbol/timeframe 不能为空")
		}
		groups[c.Key()] = append(groups[c.Key()], c)
	}
	for k, batch := range groups {
		sh := s.shardFor(k)
		sh.mu.Lock()
		byTime := make(map[int64]market.Candle, len(sh.data[k])+len(batch))
		for _, c := range sh.data[k] {
			byTime[c.OpenTime()] = c
		}
		for _, c := range batch {
			byTime[c.OpenTime()] = c
		}
		merged := make([]market.Candle, 0, len(byTime))
		for _, c := range byTime {
			merged = append(merged, c)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime() < merged[j].OpenTime() })
		sh.data[k] = merged
		sh.mu.Unlock()
	}
	return len(candles), nil
}

func (s *MemoryCandleStore) snapshot(k market.Key) []market.Candle {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out
}

func (s *MemoryCandleStore) Range(_ context.Context, k market.Key, start, end int64) ([]market.Candle, error) {
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	var out []market.Candle
	for _, c := range s.snapshot(k) {
		ts := c.OpenTime()
		if start > 0 && ts < start {
			continue
		}
		if end > 0 && ts > end {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryCandleStore) Query(ctx context.Context, k market.Key, start, end int64, limit int) ([]market.Candle, error) {
	limit = ClampLimit(limit)
	list, err := s.Range(ctx, k, start, end)
	if err != nil || len(list) <= limit {
		return list, err
	}
	if start > 0 {
		return list[:limit], nil
	}
	return list[len(list)-limit:], nil
}

func (s *MemoryCandleStore) Series(_ context.Context, k market.Key) (market.AvailableCandles, bool, error) {
	cur := s.snapshot(k)
	if len(cur) == 0 {
		return market.AvailableCandles{}, false, nil
	}
	return market.AvailableCandles{
		Exchange:  k.Exchange,
		Symbol:    k.Symbol,
		Timeframe: k.Timeframe,
		First:     cur[0].Timestamp,
		Last:      cur[len(cur)-1].Timestamp,
		Count:     int64(len(cur)),
	}, true, nil
}

func (s *MemoryCandleStore) Available(ctx context.Context) ([]market.AvailableCandles, error) {
	var keys []market.Key
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, v := range sh.data {
			if len(v) > 0 {
				keys = append(keys, k)
			}
		}
		sh.mu.RUnlock()
	}
	out := make([]market.AvailableCandles, 0, len(keys))
	for _, k := range keys {
		if a, ok, _ := s.Series(ctx, k); ok {
			out = append(out, a)
		}
	}
	SortAvailable(out)
	return out, nil
}

func (s *MemoryCandleStore) Close() error { return nil }

// SortAvailable orders series by exchange, symbol, then timeframe duration.
func SortAvailable(list []market.AvailableCandles) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Exchange != b.Exchange {
			return a.Exchange < b.Exchange
		}
		if a.Symbol != b.Symbol {
			return strings.Compare(a.Symbol, b.Symbol) < 0
		}
		return a.Timeframe.Duration() < b.Timeframe.Duration()
	})
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
