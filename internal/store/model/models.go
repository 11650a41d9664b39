package model

import (
	"time"

	"gorm.io/datatypes"
)

// TaskSnapshotModel 保存终态任务的 JSON 快照，completed_at 用于启动时倒序加载。
type TaskSnapshotModel struct {
	ID          string         `gorm:"column:id;primaryKey;size:36"`
	Kind        string         `gorm:"column:kind;size:32;index:idx_task_snapshots_kind_completed,priority:1"`
	Data        datatypes.JSON `gorm:"column:data;not null"`
	CompletedAt time.Time      `gorm:"column:completed_at;not null;index:idx_task_snapshots_kind_completed,priority:2"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (TaskSnapshotModel) TableName() string { return "task_snapshots" }
