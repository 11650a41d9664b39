package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"candlelab/internal/apperr"

	"github.com/google/uuid"
)

// Snapshot is the durable form of a terminal task.
type Snapshot struct {
	ID          uuid.UUID
	Kind        Kind
	Data        []byte
	CompletedAt time.Time
}

// SnapshotStore 持久化终态任务快照。Upsert 以 ID 为键幂等覆盖；
// Load 按 CompletedAt 倒序返回某一类任务的全部快照。
type SnapshotStore interface {
	Upsert(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, kind Kind) ([]Snapshot, error)
}

// MemoryStore keeps snapshots for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]Snapshot)}
}

func (m *MemoryStore) Upsert(_ context.Context, snap Snapshot) error {
	if snap.CompletedAt.IsZero() {
		return apperr.Internal("task %s not completed yet", snap.ID)
	}
	data := append([]byte(nil), snap.Data...)
	snap.Data = data
	m.mu.Lock()
	m.items[snap.ID] = snap
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, kind Kind) ([]Snapshot, error) {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.items))
	for _, s := range m.items {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}
