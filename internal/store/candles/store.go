package candles

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/logger"
	"candlelab/internal/market"
	"candlelab/internal/store"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store 为每个 exchange/symbol/timeframe 维护一个独立的 SQLite 文件：
// <root>/<exchange>/<BASE-QUOTE>/<timeframe>.db。价格与成交量以 TEXT 保存，保证十进制精度不丢失。
type Store struct {
	root string
	now  func() time.Time

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

var _ store.CandleStore = (*Store)(nil)

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("candle root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, now: time.Now, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) dbPath(k market.Key) string {
	sym := strings.ToUpper(strings.ReplaceAll(k.Symbol, "/", "-"))
	return filepath.Join(s.root, strings.ToLower(k.Exchange), sym, fileName(k.Timeframe)+".db")
}

// fileName keeps "1m" and "1M" apart on case-insensitive filesystems.
func fileName(tf market.Timeframe) string {
	if tf == market.OneMonth {
		return "1mo"
	}
	return string(tf)
}

// checkKey 拒绝空字段与可能逃出 root 的路径片段。
func checkKey(k market.Key) error {
	if !k.Timeframe.Valid() {
		return apperr.InvalidField("timeframe", string(k.Timeframe))
	}
	if !safeSegment(k.Exchange) {
		return apperr.InvalidField("exchange", k.Exchange)
	}
	if !safeSegment(strings.ReplaceAll(k.Symbol, "/", "-")) {
		return apperr.InvalidField("symbol", k.Symbol)
	}
	return nil
}

func safeSegment(seg string) bool {
	if strings.TrimSpace(seg) == "" || strings.Contains(seg, "..") {
		return false
	}
	return !strings.ContainsAny(seg, `/\:`) && filepath.Base(seg) == seg
}

func (s *Store) db(k market.Key) (*sql.DB, error) {
	if err := checkKey(k); err != nil {
		return nil, err
	}
	return s.open(s.dbPath(k), &k)
}

// existing 只打开已存在的序列文件，读路径不创建任何文件；不存在时返回 nil。
func (s *Store) existing(k market.Key) (*sql.DB, error) {
	if err := checkKey(k); err != nil {
		return nil, err
	}
	path := s.dbPath(k)
	s.mu.Lock()
	db, ok := s.dbs[path]
	s.mu.Unlock()
	if ok {
		return db, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return s.open(path, nil)
}

// open 打开（必要时创建）数据库文件；seed 非空时写入 manifest 的序列标识。
func (s *Store) open(path string, seed *market.Key) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, seed); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	s.dbs[path] = db
	return db, nil
}

func ensureSchema(db *sql.DB, seed *market.Key) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time   INTEGER PRIMARY KEY,
			open        TEXT NOT NULL,
			high        TEXT NOT NULL,
			low         TEXT NOT NULL,
			close       TEXT NOT NULL,
			volume      TEXT NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id           INTEGER PRIMARY KEY CHECK (id=1),
			exchange     TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			timeframe    TEXT NOT NULL,
			min_time     INTEGER DEFAULT 0,
			max_time     INTEGER DEFAULT 0,
			rows         INTEGER DEFAULT 0,
			last_sync_at INTEGER DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	if seed == nil {
		return nil
	}
	_, err := db.Exec(`INSERT INTO manifest (id, exchange, symbol, timeframe) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET exchange=excluded.exchange, symbol=excluded.symbol, timeframe=excluded.timeframe`,
		seed.Exchange, seed.Symbol, string(seed.Timeframe))
	return err
}

// Insert 批量写入 K 线（重复 open_time 将被覆盖），按序列分组各自提交。
func (s *Store) Insert(ctx context.Context, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	groups := make(map[market.Key][]market.Candle)
	var order []market.Key
	for _, c := range candles {
		k := c.Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}
	total := 0
	for _, k := range order {
		n, err := s.insertSeries(ctx, k, groups[k])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Store) insertSeries(ctx context.Context, k market.Key, candles []market.Candle) (int, error) {
	db, err := s.db(k)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String()); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert candle %d: %w", c.OpenTime(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return len(candles), err
	}
	return len(candles), nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, s.now().UnixMilli())
	return err
}

const selectCandles = `SELECT open_time, open, high, low, close, volume FROM candles`

// Range 返回 start~end 范围内的全部 K 线（开盘时间闭区间）。
func (s *Store) Range(ctx context.Context, k market.Key, start, end int64) ([]market.Candle, error) {
	db, err := s.existing(k)
	if err != nil || db == nil {
		return nil, err
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	if end <= 0 {
		end = 1<<63 - 1
	}
	rows, err := db.QueryContext(ctx, selectCandles+`
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, k, false)
}

// Query 读取指定区间的 K 线，结果始终按 open_time 升序返回。
func (s *Store) Query(ctx context.Context, k market.Key, start, end int64, limit int) ([]market.Candle, error) {
	db, err := s.existing(k)
	if err != nil || db == nil {
		return nil, err
	}
	limit = store.ClampLimit(limit)
	var rows *sql.Rows
	desc := false
	switch {
	case start > 0 && end > 0:
		if end < start {
			start, end = end, start
		}
		rows, err = db.QueryContext(ctx, selectCandles+`
			WHERE open_time BETWEEN ? AND ? ORDER BY open_time ASC LIMIT ?`, start, end, limit)
	case start > 0:
		rows, err = db.QueryContext(ctx, selectCandles+`
			WHERE open_time >= ? ORDER BY open_time ASC LIMIT ?`, start, limit)
	case end > 0:
		rows, err = db.QueryContext(ctx, selectCandles+`
			WHERE open_time <= ? ORDER BY open_time DESC LIMIT ?`, end, limit)
		desc = true
	default:
		rows, err = db.QueryContext(ctx, selectCandles+` ORDER BY open_time DESC LIMIT ?`, limit)
		desc = true
	}
	if err != nil {
		return nil, err
	}
	return scanCandles(rows, k, desc)
}

func scanCandles(rows *sql.Rows, k market.Key, reverse bool) ([]market.Candle, error) {
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var (
			ts   int64
			vals [5]string
		)
		if err := rows.Scan(&ts, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4]); err != nil {
			return nil, err
		}
		var nums [5]decimal.Decimal
		for i, v := range vals {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("candle %d: %w", ts, err)
			}
			nums[i] = d
		}
		list = append(list, market.Candle{
			Timestamp: time.UnixMilli(ts).UTC(),
			Exchange:  k.Exchange,
			Symbol:    k.Symbol,
			Timeframe: k.Timeframe,
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

// Series 读取单个序列的 manifest。
func (s *Store) Series(ctx context.Context, k market.Key) (market.AvailableCandles, bool, error) {
	db, err := s.existing(k)
	if err != nil || db == nil {
		return market.AvailableCandles{}, false, err
	}
	return readManifest(ctx, db)
}

func readManifest(ctx context.Context, db *sql.DB) (market.AvailableCandles, bool, error) {
	var (
		out          market.AvailableCandles
		tf           string
		minTs, maxTs int64
	)
	row := db.QueryRowContext(ctx, `SELECT exchange, symbol, timeframe, min_time, max_time, rows FROM manifest WHERE id=1`)
	if err := row.Scan(&out.Exchange, &out.Symbol, &tf, &minTs, &maxTs, &out.Count); err != nil {
		if err == sql.ErrNoRows {
			return market.AvailableCandles{}, false, nil
		}
		return market.AvailableCandles{}, false, err
	}
	if out.Count == 0 {
		return market.AvailableCandles{}, false, nil
	}
	out.Timeframe = market.Timeframe(tf)
	out.First = time.UnixMilli(minTs).UTC()
	out.Last = time.UnixMilli(maxTs).UTC()
	return out, true, nil
}

// Available 遍历 root 下的所有序列文件并汇总 manifest。
func (s *Store) Available(ctx context.Context) ([]market.AvailableCandles, error) {
	var out []market.AvailableCandles
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".db" {
			return nil
		}
		db, err := s.open(path, nil)
		if err != nil {
			logger.Warnf("[candles] 跳过无法打开的文件 %s: %v", path, err)
			return nil
		}
		a, ok, err := readManifest(ctx, db)
		if err != nil {
			logger.Warnf("[candles] 读取 manifest 失败 %s: %v", path, err)
			return nil
		}
		if ok {
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	store.SortAvailable(out)
	return out, nil
}
