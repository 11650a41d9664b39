package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"candlelab/internal/apperr"
	storemodel "candlelab/internal/store/model"
	"candlelab/internal/task"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type snapshotModel = storemodel.TaskSnapshotModel

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	DSN    string
}

// GormStore implements task.SnapshotStore on SQLite or Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ task.SnapshotStore = (*GormStore)(nil)

// Open 根据 driver 打开数据库并迁移快照表。
func Open(cfg Config) (*GormStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("gorm store: dsn 不能为空")
	}
	var dialector gorm.Dialector
	switch driver {
	case "", DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
		driver = DriverSQLite
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, apperr.Validation("unsupported storage driver: %s", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&snapshotModel{}); err != nil {
		return nil, fmt.Errorf("migrate task_snapshots: %w", err)
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &GormStore{db: db}, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert 以任务 ID 为键覆盖写入快照。
func (s *GormStore) Upsert(ctx context.Context, snap task.Snapshot) error {
	if snap.CompletedAt.IsZero() {
		return apperr.Internal("task %s not completed yet", snap.ID)
	}
	now := time.Now().UTC()
	row := snapshotModel{
		ID:          snap.ID.String(),
		Kind:        string(snap.Kind),
		Data:        datatypes.JSON(snap.Data),
		CompletedAt: snap.CompletedAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "data", "completed_at", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert task snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *GormStore) Load(ctx context.Context, kind task.Kind) ([]task.Snapshot, error) {
	var rows []snapshotModel
	err := s.db.WithContext(ctx).
		Where("kind = ?", string(kind)).
		Order("completed_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load task snapshots: %w", err)
	}
	out := make([]task.Snapshot, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("task snapshot id %q: %w", r.ID, err)
		}
		out = append(out, task.Snapshot{
			ID:          id,
			Kind:        task.Kind(r.Kind),
			Data:        []byte(r.Data),
			CompletedAt: r.CompletedAt,
		})
	}
	return out, nil
}
