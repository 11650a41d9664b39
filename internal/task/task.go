// Package task 实现通用的异步任务引擎：生命周期、进度、事件总线与快照持久化。
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch {
	case s == StatusPending:
		return 0
	case s == StatusRunning:
		return 1
	case s.Terminal():
		return 2
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind 区分任务类型，同时作为快照表的分区键。
type Kind string

const (
	KindFetchCandles Kind = "fetch_candles"
	KindBacktest     Kind = "backtest"
)

// Task is a point-in-time copy of one job. Completed implies Result and
// CompletedAt are set; Failed implies ErrorMessage is set. Both terminal
// states carry CompletedAt, which is the persistence sort key.
type Task[P any, R any] struct {
	ID           uuid.UUID  `json:"id"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	Progress     float64    `json:"progress"`
	Params       P          `json:"params"`
	Result       *R         `json:"result,omitempty"`
	Partial      *R         `json:"partial_result,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PartialError lets a failing job hand back what it produced before the failure.
type PartialError[R any] struct {
	Partial R
	Err     error
}

func (e *PartialError[R]) Error() string { return e.Err.Error() }

func (e *PartialError[R]) Unwrap() error { return e.Err }

// WithPartial 包装错误并附带部分结果；err 为 nil 时返回 nil。
func WithPartial[R any](partial R, err error) error {
	if err == nil {
		return nil
	}
	return &PartialError[R]{Partial: partial, Err: err}
}

func partialOf[R any](err error) (*R, bool) {
	var pe *PartialError[R]
	if errors.As(err, &pe) {
		p := pe.Partial
		return &p, true
	}
	return nil, false
}
