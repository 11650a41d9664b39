package task

import (
	"sync"
	"sync/atomic"
)

// DefaultBusCapacity 是每个订阅者的缓冲上限。
const DefaultBusCapacity = 1000

// Bus is a bounded fan-out channel. A subscriber whose buffer is full
// misses the event: delivery is best-effort and never blocks publishers.
type Bus[T any] struct {
	capacity int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan T

	dropped atomic.Uint64
}

func NewBus[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus[T]{capacity: capacity, subs: make(map[uint64]chan T)}
}

func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe 返回只读通道与取消函数；取消后通道被关闭，可重复调用。
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.capacity)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Close drops every subscriber.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}
