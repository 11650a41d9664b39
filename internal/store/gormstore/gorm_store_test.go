package gormstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/store/gormstore"
	"candlelab/internal/task"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *gormstore.GormStore {
	t.Helper()
	s, err := gormstore.Open(gormstore.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "db", "tasks.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, task.Snapshot{ID: id, Kind: task.KindBacktest, Data: []byte(`{"v":1}`), CompletedAt: at}))
	require.NoError(t, s.Upsert(ctx, task.Snapshot{ID: id, Kind: task.KindBacktest, Data: []byte(`{"v":2}`), CompletedAt: at}))

	got, err := s.Load(ctx, task.KindBacktest)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.JSONEq(t, `{"v":2}`, string(got[0].Data))
}

func TestLoadOrdersByCompletion(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, s.Upsert(ctx, task.Snapshot{
			ID:          id,
			Kind:        task.KindFetchCandles,
			Data:        []byte(`{}`),
			CompletedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.Upsert(ctx, task.Snapshot{ID: uuid.New(), Kind: task.KindBacktest, Data: []byte(`{}`), CompletedAt: base}))

	got, err := s.Load(ctx, task.KindFetchCandles)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.Equal(t, ids[0], got[2].ID)
}

func TestUpsertRequiresCompletion(t *testing.T) {
	s := openTemp(t)
	err := s.Upsert(context.Background(), task.Snapshot{ID: uuid.New(), Kind: task.KindBacktest, Data: []byte(`{}`)})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestUnknownDriver(t *testing.T) {
	_, err := gormstore.Open(gormstore.Config{Driver: "oracle", DSN: "x"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestEngineRestoresFromSQLite(t *testing.T) {
	s := openTemp(t)
	work := func(_ context.Context, p string, progress task.ProgressFunc) (int, error) {
		progress(1)
		return len(p), nil
	}
	e, err := task.NewEngine(task.Config[string, int]{Kind: task.KindFetchCandles, Work: work, Store: s})
	require.NoError(t, err)
	id, err := e.Submit("BTC/USDT")
	require.NoError(t, err)
	e.Wait()

	fresh, err := task.NewEngine(task.Config[string, int]{Kind: task.KindFetchCandles, Work: work, Store: s})
	require.NoError(t, err)
	n, err := fresh.Restore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, ok := fresh.Get(id)
	require.True(t, ok)
	assert.Equal(t, task.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 8, *got.Result)
}
