package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_operations (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL,
    endpoint    TEXT NOT NULL,
    method      TEXT NOT NULL,
    auth_token  TEXT NOT NULL DEFAULT '',
    body        BLOB,
    enqueued_at INTEGER NOT NULL
);
`

// Store persists pending operations in SQLite so the queue survives process
// restarts. Replay order comes from the autoincrement sequence column.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open 打开（或创建）队列数据库并确保表结构就绪。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure queue table: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Enqueue 插入一条待同步操作；ID 为空时生成 uuid，EnqueuedAt 为空时取当前时间。
func (s *Store) Enqueue(ctx context.Context, op PendingOperation) (PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return PendingOperation{}, err
	}
	if s == nil || s.sqlDB == nil {
		return PendingOperation{}, fmt.Errorf("queue is not configured")
	}

	endpoint := strings.TrimSpace(op.Endpoint)
	if endpoint == "" {
		return PendingOperation{}, fmt.Errorf("endpoint is required")
	}
	method := strings.ToUpper(strings.TrimSpace(op.Method))
	if method == "" {
		return PendingOperation{}, fmt.Errorf("method is required")
	}
	if op.Kind == "" {
		op.Kind = KindGeneric
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	op.Endpoint = endpoint
	op.Method = method

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO pending_operations (id, kind, endpoint, method, auth_token, body, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID,
		string(op.Kind),
		op.Endpoint,
		op.Method,
		op.AuthToken,
		op.Body,
		toMillis(op.EnqueuedAt),
	)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("insert pending operation: %w", err)
	}
	return op, nil
}

// List 按入队顺序返回指定类别的全部操作；不传类别时返回整个队列。
func (s *Store) List(ctx context.Context, kinds ...Kind) ([]PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("queue is not configured")
	}

	query := `SELECT id, kind, endpoint, method, auth_token, body, enqueued_at
	          FROM pending_operations`
	args := make([]any, 0, len(kinds))
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, kind := range kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		query += " WHERE kind IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY seq ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []PendingOperation
	for rows.Next() {
		var (
			op         PendingOperation
			kind       string
			enqueuedAt int64
		)
		if err := rows.Scan(&op.ID, &kind, &op.Endpoint, &op.Method, &op.AuthToken, &op.Body, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending operation: %w", err)
		}
		op.Kind = Kind(kind)
		op.EnqueuedAt = fromMillis(enqueuedAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending operations: %w", err)
	}
	return ops, nil
}

// Remove 删除已确认成功的操作；id 不存在时静默成功。
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("queue is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("operation id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove pending operation: %w", err)
	}
	return nil
}

// Depths 返回各类别的排队深度，供诊断端输出。
func (s *Store) Depths(ctx context.Context) (map[Kind]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("queue is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT kind, COUNT(*) FROM pending_operations GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count pending operations: %w", err)
	}
	defer rows.Close()

	depths := map[Kind]int{
		KindEvaluationSubmit: 0,
		KindUserUpdate:       0,
		KindGeneric:          0,
	}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan queue depth: %w", err)
		}
		depths[Kind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue depths: %w", err)
	}
	return depths, nil
}
