package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/logger"

	"github.com/google/uuid"
)

// ProgressFunc reports a fraction in [0,1]. Values below the current
// progress are ignored.
type ProgressFunc func(fraction float64)

// Work 执行一次任务，返回终态结果。失败时可用 WithPartial 附带部分结果。
type Work[P any, R any] func(ctx context.Context, params P, progress ProgressFunc) (R, error)

// progressStep 控制进度事件的最小发布间隔，避免长任务刷满总线。
const progressStep = 0.01

type Config[P any, R any] struct {
	Kind        Kind
	Work        Work[P, R]
	Store       SnapshotStore
	BusCapacity int
	// Context is the process root; cancelling it ends every stream. Work
	// runs detached from it so in-flight jobs finish naturally.
	Context context.Context
}

type cell[P any, R any] struct {
	mu            sync.RWMutex
	task          Task[P, R]
	lastPublished float64
}

// Engine 管理一种任务的注册表、执行与事件流。
type Engine[P any, R any] struct {
	kind  Kind
	work  Work[P, R]
	store SnapshotStore
	bus   *Bus[Task[P, R]]
	root  context.Context
	now   func() time.Time

	mu    sync.RWMutex
	order []uuid.UUID
	cells map[uuid.UUID]*cell[P, R]

	wg sync.WaitGroup
}

func NewEngine[P any, R any](cfg Config[P, R]) (*Engine[P, R], error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("task kind 不能为空")
	}
	if cfg.Work == nil {
		return nil, fmt.Errorf("task %s: work 不能为空", cfg.Kind)
	}
	root := cfg.Context
	if root == nil {
		root = context.Background()
	}
	return &Engine[P, R]{
		kind:  cfg.Kind,
		work:  cfg.Work,
		store: cfg.Store,
		bus:   NewBus[Task[P, R]](cfg.BusCapacity),
		root:  root,
		now:   func() time.Time { return time.Now().UTC() },
		cells: make(map[uuid.UUID]*cell[P, R]),
	}, nil
}

func (e *Engine[P, R]) Kind() Kind { return e.kind }

// Create 以 Pending 状态登记任务并立即返回 ID，不等待执行。
func (e *Engine[P, R]) Create(params P) uuid.UUID {
	now := e.now()
	c := &cell[P, R]{task: Task[P, R]{
		ID:        uuid.New(),
		Kind:      e.kind,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	id := c.task.ID
	e.mu.Lock()
	e.cells[id] = c
	e.order = append(e.order, id)
	e.mu.Unlock()

	c.mu.Lock()
	e.bus.Publish(c.task)
	c.mu.Unlock()
	logger.Infof("[task] %s %s 已创建", e.kind, id)
	return id
}

// Schedule moves a Pending task to Running and starts its work. Scheduling
// any other state is rejected so a task never runs twice.
func (e *Engine[P, R]) Schedule(id uuid.UUID) error {
	c, ok := e.cell(id)
	if !ok {
		return apperr.NotFound("task %s not found", id)
	}
	c.mu.Lock()
	if c.task.Status != StatusPending {
		status := c.task.Status
		c.mu.Unlock()
		return apperr.Internal("task %s already scheduled (status=%s)", id, status)
	}
	now := e.now()
	c.task.Status = StatusRunning
	c.task.StartedAt = &now
	c.task.UpdatedAt = now
	params := c.task.Params
	e.bus.Publish(c.task)
	c.mu.Unlock()

	e.wg.Add(1)
	go e.run(c, id, params)
	return nil
}

// Submit 是 Create 与 Schedule 的组合。
func (e *Engine[P, R]) Submit(params P) (uuid.UUID, error) {
	id := e.Create(params)
	if err := e.Schedule(id); err != nil {
		return id, err
	}
	return id, nil
}

func (e *Engine[P, R]) run(c *cell[P, R], id uuid.UUID, params P) {
	defer e.wg.Done()
	ctx := context.WithoutCancel(e.root)
	logger.Infof("[task] %s %s 开始执行", e.kind, id)

	result, err := e.safeWork(ctx, params, func(fraction float64) { e.progress(c, fraction) })
	e.finish(ctx, c, result, err)
}

func (e *Engine[P, R]) safeWork(ctx context.Context, params P, progress ProgressFunc) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Internal("task panicked: %v", r)
		}
	}()
	return e.work(ctx, params, progress)
}

func (e *Engine[P, R]) progress(c *cell[P, R], fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task.Status != StatusRunning || fraction <= c.task.Progress {
		return
	}
	c.task.Progress = fraction
	if fraction-c.lastPublished < progressStep && fraction < 1 {
		return
	}
	c.lastPublished = fraction
	c.task.UpdatedAt = e.now()
	e.bus.Publish(c.task)
}

// finish 计算终态并先持久化再对外发布，持久化失败的成功任务改记为失败。
func (e *Engine[P, R]) finish(ctx context.Context, c *cell[P, R], result R, workErr error) {
	c.mu.RLock()
	final := c.task
	c.mu.RUnlock()

	now := e.now()
	final.UpdatedAt = now
	final.CompletedAt = &now
	if workErr != nil {
		e.markFailed(&final, workErr)
	} else {
		final.Status = StatusCompleted
		final.Progress = 1
		final.Result = &result
	}

	if err := e.persist(ctx, final); err != nil {
		logger.Errorf("[task] %s %s 快照写入失败: %v", e.kind, final.ID, err)
		if final.Status == StatusCompleted {
			final.Result = nil
			e.markFailed(&final, apperr.Execution("persist snapshot", err))
		}
	}

	c.mu.Lock()
	c.task = final
	e.bus.Publish(c.task)
	c.mu.Unlock()

	if final.Status == StatusFailed {
		logger.Warnf("[task] %s %s 失败: %s", e.kind, final.ID, *final.ErrorMessage)
	} else {
		logger.Infof("[task] %s %s 完成", e.kind, final.ID)
	}
}

func (e *Engine[P, R]) markFailed(t *Task[P, R], err error) {
	msg := err.Error()
	t.Status = StatusFailed
	t.ErrorMessage = &msg
	if partial, ok := partialOf[R](err); ok {
		t.Partial = partial
	}
}

func (e *Engine[P, R]) persist(ctx context.Context, t Task[P, R]) error {
	if e.store == nil {
		return nil
	}
	if t.CompletedAt == nil {
		return apperr.Internal("task %s not completed yet", t.ID)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return e.store.Upsert(ctx, Snapshot{ID: t.ID, Kind: t.Kind, Data: data, CompletedAt: *t.CompletedAt})
}

// Restore 从快照存储加载历史任务，按完成时间倒序追加到注册表。
func (e *Engine[P, R]) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	snaps, err := e.store.Load(ctx, e.kind)
	if err != nil {
		return 0, fmt.Errorf("load %s snapshots: %w", e.kind, err)
	}
	restored := 0
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, snap := range snaps {
		var t Task[P, R]
		if err := json.Unmarshal(snap.Data, &t); err != nil {
			logger.Warnf("[task] %s 快照 %s 解析失败，已跳过: %v", e.kind, snap.ID, err)
			continue
		}
		if !t.Status.Terminal() {
			continue
		}
		if _, exists := e.cells[t.ID]; exists {
			continue
		}
		e.cells[t.ID] = &cell[P, R]{task: t, lastPublished: t.Progress}
		e.order = append(e.order, t.ID)
		restored++
	}
	if restored > 0 {
		logger.Infof("[task] %s 恢复 %d 个历史任务", e.kind, restored)
	}
	return restored, nil
}

func (e *Engine[P, R]) cell(id uuid.UUID) (*cell[P, R], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cells[id]
	return c, ok
}

func (e *Engine[P, R]) Get(id uuid.UUID) (Task[P, R], bool) {
	c, ok := e.cell(id)
	if !ok {
		return Task[P, R]{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.task, true
}

// List 按注册顺序返回所有任务的副本。
func (e *Engine[P, R]) List() []Task[P, R] {
	e.mu.RLock()
	cells := make([]*cell[P, R], 0, len(e.order))
	for _, id := range e.order {
		cells = append(cells, e.cells[id])
	}
	e.mu.RUnlock()

	out := make([]Task[P, R], 0, len(cells))
	for _, c := range cells {
		c.mu.RLock()
		out = append(out, c.task)
		c.mu.RUnlock()
	}
	return out
}

// Subscribe streams a snapshot of every known task in registry order, then
// live events in publish order, until ctx or the engine root is done.
// The bus subscription is taken before the snapshot so nothing is lost in
// between; live events already reflected in the snapshot are dropped, so a
// task's state never goes backwards on the stream.
func (e *Engine[P, R]) Subscribe(ctx context.Context) <-chan Task[P, R] {
	live, cancel := e.bus.Subscribe()
	initial := e.List()
	seen := make(map[uuid.UUID]Task[P, R], len(initial))
	for _, t := range initial {
		seen[t.ID] = t
	}
	out := make(chan Task[P, R])
	go func() {
		defer close(out)
		defer cancel()
		send := func(t Task[P, R]) bool {
			select {
			case out <- t:
				return true
			case <-ctx.Done():
				return false
			case <-e.root.Done():
				return false
			}
		}
		for _, t := range initial {
			if !send(t) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.root.Done():
				return
			case t, ok := <-live:
				if !ok {
					return
				}
				if snap, found := seen[t.ID]; found {
					if !newerThan(t, snap) {
						continue
					}
					// 同一任务的事件按序发布，之后不会再有旧事件。
					delete(seen, t.ID)
				}
				if !send(t) {
					return
				}
			}
		}
	}()
	return out
}

// newerThan 判断 ev 是否晚于 snap；状态与进度只增不减，时钟精度不足时仍可区分。
func newerThan[P any, R any](ev, snap Task[P, R]) bool {
	return ev.UpdatedAt.After(snap.UpdatedAt) ||
		ev.Status.rank() > snap.Status.rank() ||
		ev.Progress > snap.Progress
}

// Wait blocks until every scheduled task has finished.
func (e *Engine[P, R]) Wait() {
	e.wg.Wait()
}

// Dropped 返回因订阅者缓冲已满而丢弃的事件数。
func (e *Engine[P, R]) Dropped() uint64 {
	return e.bus.Dropped()
}
