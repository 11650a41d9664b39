// Package strategy manages strategy workspaces: it writes user source into
// an isolated directory per strategy, compiles it into a plugin and loads
// instances for backtests.
package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"candlelab/internal/apperr"
	"candlelab/internal/logger"
	api "candlelab/pkg/strategy"

	"gopkg.in/yaml.v3"
)

const (
	SourceFile   = "main.go"
	MetadataFile = "strategy.yaml"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Metadata is persisted as strategy.yaml next to the source. Artifact is
// relative to the workspace so a moved workspace stays loadable.
type Metadata struct {
	Name     string    `yaml:"name"`
	Artifact string    `yaml:"artifact"`
	Checksum string    `yaml:"checksum"`
	BuiltAt  time.Time `yaml:"built_at"`
}

// Entry is one workspace as reported by List.
type Entry struct {
	Name    string     `json:"name"`
	Path    string     `json:"path"`
	Built   bool       `json:"built"`
	BuiltAt *time.Time `json:"built_at,omitempty"`
	InUse   int        `json:"in_use"`
}

type Config struct {
	Root string

	// HostModule/HostModuleDir, when set, make every workspace its own Go
	// module that resolves the host through a replace directive.
	HostModule    string
	HostModuleDir string
	Builder       Builder
	Opener        Opener
}

type record struct {
	meta  Metadata
	dir   string
	inUse int
}

// Manager 维护策略工作区与已编译策略的注册表（按名称索引）。
type Manager struct {
	root       string
	hostModule string
	hostDir    string
	builder    Builder
	opener     Opener
	now        func() time.Time

	buildMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*record
}

func NewManager(cfg Config) (*Manager, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("strategy root 不能为空")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		root:       abs,
		hostModule: strings.TrimSpace(cfg.HostModule),
		hostDir:    strings.TrimSpace(cfg.HostModuleDir),
		builder:    cfg.Builder,
		opener:     cfg.Opener,
		now:        func() time.Time { return time.Now().UTC() },
		records:    make(map[string]*record),
	}
	if m.builder == nil {
		m.builder = GoBuilder{}
	}
	if m.opener == nil {
		m.opener = PluginOpener{}
	}
	return m, nil
}

func (m *Manager) Root() string { return m.root }

func validName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if !namePattern.MatchString(n) {
		return "", apperr.InvalidField("strategy name", name)
	}
	return n, nil
}

// Install 写入源码并编译；编译失败返回带编译器输出的 BuildError，原有可用版本保持不变。
func (m *Manager) Install(ctx context.Context, name, source string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(source) == "" {
		return apperr.InvalidField("source", "empty")
	}
	dir, err := safeJoin(m.root, name)
	if err != nil {
		return err
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindInternal, "create workspace", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SourceFile), []byte(source), 0o644); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write source", err)
	}
	if err := m.writeModule(dir, name); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write go.mod", err)
	}

	sum := sha256.Sum256([]byte(source))
	checksum := hex.EncodeToString(sum[:])[:12]
	artifact := fmt.Sprintf("%s-%s.so", name, checksum)
	out := filepath.Join(dir, artifact)
	logger.Infof("[strategy] 开始编译 %s", name)
	diag, err := m.builder.Build(ctx, BuildRequest{
		Name:       name,
		Dir:        dir,
		Output:     out,
		PluginPath: fmt.Sprintf("candlelab/strategies/%s/%s", name, checksum),
	})
	if err != nil {
		_ = os.Remove(out)
		logger.Warnf("[strategy] %s 编译失败: %v", name, err)
		return apperr.Build(name, diag, err)
	}
	if _, err := os.Stat(out); err != nil {
		return apperr.Build(name, "build produced no module", err)
	}

	meta := Metadata{Name: name, Artifact: artifact, Checksum: checksum, BuiltAt: m.now()}
	if err := writeMetadata(dir, meta); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write metadata", err)
	}
	removeStaleArtifacts(dir, artifact)

	m.mu.Lock()
	inUse := 0
	if prev, ok := m.records[name]; ok {
		inUse = prev.inUse
	}
	m.records[name] = &record{meta: meta, dir: dir, inUse: inUse}
	m.mu.Unlock()
	logger.Infof("[strategy] %s 编译完成 (%s)", name, artifact)
	return nil
}

func (m *Manager) writeModule(dir, name string) error {
	if m.hostModule == "" || m.hostDir == "" {
		return nil
	}
	mod := fmt.Sprintf("module candlelab-strategies/%s\n\ngo 1.24.0\n\nrequire %s v0.0.0\n\nreplace %s => %s\n",
		name, m.hostModule, m.hostModule, m.hostDir)
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(mod), 0o644); err != nil {
		return err
	}
	sum, err := os.ReadFile(filepath.Join(m.hostDir, "go.sum"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(filepath.Join(dir, "go.sum"), sum, 0o644)
}

func removeStaleArtifacts(dir, keep string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.so"))
	for _, p := range matches {
		if filepath.Base(p) != keep {
			_ = os.Remove(p)
		}
	}
}

func writeMetadata(dir string, meta Metadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644)
}

func readMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return meta, nil
}

// Load opens the built module for name and constructs one instance.
func (m *Manager) Load(name string) (*Handle, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	rec, ok := m.records[name]
	var artifact string
	if ok {
		artifact = filepath.Join(rec.dir, rec.meta.Artifact)
	}
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("strategy %s not found or not built", name)
	}
	if _, err := os.Stat(artifact); os.IsNotExist(err) {
		m.forgetMissing()
		return nil, apperr.NotFound("strategy %s not found or not built", name)
	}

	mod, err := m.opener.Open(artifact)
	if err != nil {
		return nil, apperr.Execution("load strategy "+name, err)
	}
	sym, err := mod.Lookup(api.EntryPoint)
	if err != nil {
		return nil, apperr.Execution("load strategy "+name, err)
	}
	var ctor func() api.Strategy
	switch fn := sym.(type) {
	case func() api.Strategy:
		ctor = fn
	case *func() api.Strategy:
		if fn != nil {
			ctor = *fn
		}
	}
	if ctor == nil {
		return nil, apperr.Execution("load strategy "+name,
			fmt.Errorf("%s has type %T, want func() strategy.Strategy", api.EntryPoint, sym))
	}
	instance, err := construct(ctor)
	if err != nil {
		return nil, apperr.Execution("load strategy "+name, err)
	}

	m.mu.Lock()
	if r, ok := m.records[name]; ok {
		r.inUse++
	}
	m.mu.Unlock()
	return &Handle{
		name:     name,
		instance: instance,
		module:   mod,
		onClose:  func() { m.release(name) },
	}, nil
}

func construct(ctor func() api.Strategy) (s api.Strategy, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", api.EntryPoint, r)
		}
	}()
	s = ctor()
	if s == nil {
		return nil, fmt.Errorf("%s returned nil", api.EntryPoint)
	}
	return s, nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[name]; ok && r.inUse > 0 {
		r.inUse--
	}
}

// List 返回 root 下的全部工作区，按名称排序。
func (m *Manager) List() ([]Entry, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list strategies", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		e := Entry{Name: d.Name(), Path: d.Name()}
		if rec, ok := m.records[d.Name()]; ok {
			builtAt := rec.meta.BuiltAt
			e.Built = true
			e.BuiltAt = &builtAt
			e.InUse = rec.inUse
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Source reads a file under root. A workspace directory resolves to its main.go.
func (m *Manager) Source(path string) (string, error) {
	full, err := safeJoin(m.root, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.NotFound("source %s not found", path)
		}
		return "", apperr.Wrap(apperr.KindInternal, "stat source", err)
	}
	if info.IsDir() {
		full = filepath.Join(full, SourceFile)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.NotFound("source %s not found", path)
		}
		return "", apperr.Wrap(apperr.KindInternal, "read source", err)
	}
	return string(data), nil
}

// SaveSource writes content without building it.
func (m *Manager) SaveSource(path, content string) error {
	full, err := safeJoin(m.root, path)
	if err != nil {
		return err
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		full = filepath.Join(full, SourceFile)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.Wrap(apperr.KindInternal, "create directory", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return apperr.Wrap(apperr.KindInternal, "write source", err)
	}
	return nil
}

func (m *Manager) Delete(path string) error {
	full, err := safeJoin(m.root, path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(full); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound("%s not found", path)
		}
		return apperr.Wrap(apperr.KindInternal, "stat", err)
	}
	if err := os.RemoveAll(full); err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete", err)
	}
	m.forgetMissing()
	logger.Infof("[strategy] 已删除 %s", path)
	return nil
}

// Move renames a file or workspace inside root. A moved workspace keeps its
// build under the new name.
func (m *Manager) Move(path, newPath string) error {
	from, err := safeJoin(m.root, path)
	if err != nil {
		return err
	}
	to, err := safeJoin(m.root, newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(from); err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound("%s not found", path)
		}
		return apperr.Wrap(apperr.KindInternal, "stat", err)
	}
	if _, err := os.Lstat(to); err == nil {
		return apperr.Validation("destination %s already exists", newPath)
	}
	if name, top := m.topLevel(to); top {
		if _, err := validName(name); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return apperr.Wrap(apperr.KindInternal, "create directory", err)
	}
	if err := os.Rename(from, to); err != nil {
		return apperr.Wrap(apperr.KindInternal, "move", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var moved *record
	if name, top := m.topLevel(from); top {
		moved = m.records[name]
		delete(m.records, name)
	}
	if name, top := m.topLevel(to); top && moved != nil {
		moved.dir = to
		moved.meta.Name = name
		if err := writeMetadata(to, moved.meta); err != nil {
			logger.Warnf("[strategy] 更新 %s 元数据失败: %v", name, err)
		}
		m.records[name] = moved
	}
	logger.Infof("[strategy] %s -> %s", path, newPath)
	return nil
}

// forgetMissing 注销编译产物已不在磁盘上的策略。
func (m *Manager) forgetMissing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, rec := range m.records {
		if _, err := os.Stat(filepath.Join(rec.dir, rec.meta.Artifact)); os.IsNotExist(err) {
			delete(m.records, name)
			logger.Infof("[strategy] %s 编译产物已删除，取消注册", name)
		}
	}
}

func (m *Manager) topLevel(full string) (string, bool) {
	rel, err := filepath.Rel(m.root, full)
	if err != nil || rel == "." || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return rel, true
}

// Rescan rebuilds the registry from strategy.yaml files on disk, registering
// only workspaces whose module still exists.
func (m *Manager) Rescan() (int, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		return 0, err
	}
	found := make(map[string]*record)
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, d.Name())
		meta, err := readMetadata(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warnf("[strategy] 跳过 %s: %v", d.Name(), err)
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, meta.Artifact)); err != nil {
			continue
		}
		meta.Name = d.Name()
		found[d.Name()] = &record{meta: meta, dir: dir}
	}
	m.mu.Lock()
	for name, rec := range found {
		if prev, ok := m.records[name]; ok {
			rec.inUse = prev.inUse
		}
	}
	m.records = found
	m.mu.Unlock()
	logger.Infof("[strategy] 扫描到 %d 个已编译策略", len(found))
	return len(found), nil
}
