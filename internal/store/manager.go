package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// generationDirPattern 匹配 <name>-generation-<N> 形式的仓库目录。
var generationDirPattern = regexp.MustCompile(`^(static|dynamic|offline)-generation-(\d+)$`)

// Manager 持有当前代号下的三个仓库，并负责代号切换时的整体失效。
// 进程启动时创建一次并在各组件间共享。
type Manager struct {
	basePath   string
	dynamicMax int
	logger     *logrus.Logger

	mu         sync.RWMutex
	generation int
	static     Store
	dynamic    Store
	offline    Store
}

// NewManager 打开（或创建）generation 对应的仓库，并删除所有旧代号目录。
func NewManager(basePath string, generation, dynamicMax int, logger *logrus.Logger) (*Manager, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage base path required")
	}
	if generation <= 0 {
		return nil, fmt.Errorf("generation must be positive, got %d", generation)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage base path: %w", err)
	}

	m := &Manager{
		basePath:   abs,
		dynamicMax: dynamicMax,
		logger:     logger,
	}
	if err := m.open(generation); err != nil {
		return nil, err
	}
	return m, nil
}

// Static 返回静态资源仓库。
func (m *Manager) Static() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.static
}

// Dynamic 返回动态资源仓库（受条目数上限约束）。
func (m *Manager) Dynamic() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dynamic
}

// Offline 返回离线兜底仓库。
func (m *Manager) Offline() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offline
}

// Generation 返回当前生效的代号。
func (m *Manager) Generation() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// GenerationName 返回便于日志与诊断输出的代号标识。
func (m *Manager) GenerationName() string {
	return fmt.Sprintf("generation-%d", m.Generation())
}

// Activate 切换到新代号：打开新仓库并整体删除所有旧代号目录。
// 与当前相同的代号视为幂等操作。
func (m *Manager) Activate(ctx context.Context, generation int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if generation <= 0 {
		return fmt.Errorf("generation must be positive, got %d", generation)
	}

	m.mu.RLock()
	current := m.generation
	m.mu.RUnlock()
	if generation == current {
		return nil
	}

	if err := m.open(generation); err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_activate",
			"generation": generation,
			"previous":   current,
		}).Info("generation_activated")
	}
	return nil
}

// EntryCounts 返回各仓库的条目数，供 /-/status 诊断输出。
func (m *Manager) EntryCounts(ctx context.Context) (map[Name]int, error) {
	counts := make(map[Name]int, 3)
	for name, s := range map[Name]Store{
		NameStatic:  m.Static(),
		NameDynamic: m.Dynamic(),
		NameOffline: m.Offline(),
	} {
		n, err := s.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s store: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

func (m *Manager) open(generation int) error {
	static, err := NewStore(m.dir(NameStatic, generation), Options{Logger: m.logger})
	if err != nil {
		return fmt.Errorf("open static store: %w", err)
	}
	dynamic, err := NewStore(m.dir(NameDynamic, generation), Options{MaxEntries: m.dynamicMax, Logger: m.logger})
	if err != nil {
		return fmt.Errorf("open dynamic store: %w", err)
	}
	offline, err := NewStore(m.dir(NameOffline, generation), Options{Logger: m.logger})
	if err != nil {
		return fmt.Errorf("open offline store: %w", err)
	}

	m.mu.Lock()
	m.generation = generation
	m.static = static
	m.dynamic = dynamic
	m.offline = offline
	m.mu.Unlock()

	return m.pruneOldGenerations(generation)
}

// pruneOldGenerations 整体删除非当前代号的仓库目录。
func (m *Manager) pruneOldGenerations(current int) error {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return err
	}
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		match := generationDirPattern.FindStringSubmatch(dirEntry.Name())
		if match == nil {
			continue
		}
		gen, err := strconv.Atoi(match[2])
		if err != nil || gen == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.basePath, dirEntry.Name())); err != nil {
			return fmt.Errorf("prune %s: %w", dirEntry.Name(), err)
		}
	}
	return nil
}

func (m *Manager) dir(name Name, generation int) string {
	return filepath.Join(m.basePath, fmt.Sprintf("%s-generation-%d", name, generation))
}
