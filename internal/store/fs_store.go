package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Options 控制单个仓库的可选行为。
type Options struct {
	// MaxEntries 为 0 时不限制条目数；大于 0 时每次 Put 后执行 FIFO 压缩。
	MaxEntries int
	// Logger 用于记录压缩阶段的降级告警，可为空。
	Logger *logrus.Logger
}

// NewStore 以 dir 为根目录构建磁盘仓库，进程内同一仓库复用一份实例。
func NewStore(dir string, opts Options) (Store, error) {
	if dir == "" {
		return nil, errors.New("storage dir required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &fileStore{
		dir:        abs,
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		locks:      make(map[string]*entryLock),
	}
	if err := s.restoreSeq(); err != nil {
		return nil, err
	}
	return s, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入；compactMu 串行化压缩扫描。
type fileStore struct {
	dir        string
	maxEntries int
	logger     *logrus.Logger
	seq        atomic.Int64

	mu    sync.Mutex
	locks map[string]*entryLock

	compactMu sync.Mutex
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// metaRecord 是 .meta 文件的磁盘表示。
type metaRecord struct {
	Key      string              `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	StoredAt time.Time           `json:"stored_at"`
	Seq      int64               `json:"seq"`
}

func (s *fileStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta, err := s.readMeta(s.metaPath(key))
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(s.bodyPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Entry{
		Key:      meta.Key,
		Status:   meta.Status,
		Header:   meta.Header,
		Body:     body,
		StoredAt: meta.StoredAt,
		Seq:      meta.Seq,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, key string, payload Payload) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.lockEntry(key)

	seq := s.seq.Add(1)
	storedAt := time.Now().UTC()
	entry := &Entry{
		Key:      key,
		Status:   payload.Status,
		Header:   payload.Header,
		Body:     payload.Body,
		StoredAt: storedAt,
		Seq:      seq,
	}

	// 先写正文再写 meta；条目仅在 meta 就位后对 Get/Keys 可见。
	if err := s.writeAtomic(s.bodyPath(key), payload.Body); err != nil {
		unlock()
		return nil, err
	}
	meta := metaRecord{
		Key:      key,
		Status:   payload.Status,
		Header:   payload.Header,
		StoredAt: storedAt,
		Seq:      seq,
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := s.writeAtomic(s.metaPath(key), encoded); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	if s.maxEntries > 0 {
		if removed, err := s.compact(); err != nil {
			// 压缩失败只降级告警，本次写入仍视为成功。
			if s.logger != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"action": "store_compact",
					"dir":    s.dir,
				}).Warn("store_compact_failed")
			}
		} else if removed > 0 && s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"action":  "store_compact",
				"dir":     s.dir,
				"removed": removed,
			}).Debug("store_compact_done")
		}
	}

	return entry, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()
	return s.removeFiles(key)
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metas, err := s.listMetas()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(metas))
	for i, meta := range metas {
		keys[i] = meta.Key
	}
	return keys, nil
}

func (s *fileStore) Len(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// compact 扫描全部 meta，按插入序号删除最早的超额条目。
func (s *fileStore) compact() (int, error) {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	metas, err := s.listMetas()
	if err != nil {
		return 0, err
	}
	excess := len(metas) - s.maxEntries
	if excess <= 0 {
		return 0, nil
	}

	removed := 0
	for _, meta := range metas[:excess] {
		unlock := s.lockEntry(meta.Key)
		err := s.removeFiles(meta.Key)
		unlock()
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *fileStore) restoreSeq() error {
	metas, err := s.listMetas()
	if err != nil {
		return err
	}
	var max int64
	for _, meta := range metas {
		if meta.Seq > max {
			max = meta.Seq
		}
	}
	s.seq.Store(max)
	return nil
}

func (s *fileStore) listMetas() ([]metaRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	metas := make([]metaRecord, 0, len(entries))
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".meta") {
			continue
		}
		meta, err := s.readMetaFile(filepath.Join(s.dir, dirEntry.Name()))
		if err != nil {
			// 半写状态的 meta 不应让整个仓库不可用。
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Seq < metas[j].Seq })
	return metas, nil
}

func (s *fileStore) readMeta(path string) (metaRecord, error) {
	return s.readMetaFile(path)
}

func (s *fileStore) readMetaFile(path string) (metaRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return metaRecord{}, ErrNotFound
		}
		return metaRecord{}, err
	}
	var meta metaRecord
	if err := json.Unmarshal(raw, &meta); err != nil {
		return metaRecord{}, ErrNotFound
	}
	return meta, nil
}

// removeFiles 先删 meta 再删正文，保证条目对读取方先行不可见。
func (s *fileStore) removeFiles(key string) error {
	if err := os.Remove(s.metaPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(s.bodyPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) writeAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) bodyPath(key string) string {
	return filepath.Join(s.dir, hashKey(key)+".body")
}

func (s *fileStore) metaPath(key string) string {
	return filepath.Join(s.dir, hashKey(key)+".meta")
}

func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
