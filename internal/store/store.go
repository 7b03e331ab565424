package store

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Name 标识三类缓存仓库，对应不同的淘汰与失效策略。
type Name string

const (
	// NameStatic 存放按约定不可变的静态资源，仅随代号整体失效。
	NameStatic Name = "static"
	// NameDynamic 存放 API/导航响应，受条目数上限约束（FIFO 淘汰）。
	NameDynamic Name = "dynamic"
	// NameOffline 存放离线兜底资源，仅随代号整体失效。
	NameOffline Name = "offline"
)

// Store 负责管理单个仓库的持久化读写。磁盘布局遵循：
//
//	<StoragePath>/<name>-generation-<N>/<sha1(key)>.body    # 响应正文
//	<StoragePath>/<name>-generation-<N>/<sha1(key)>.meta    # 头部/时间戳/插入序号
//
// 条目写入后不可原地修改，重复 Put 视作一次新的插入（序号前移）。
type Store interface {
	// Get 返回缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Entry, error)

	// Put 将响应写入缓存并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。超出条目上限时触发 FIFO 压缩。
	Put(ctx context.Context, key string, payload Payload) (*Entry, error)

	// Delete 删除条目，key 不存在时静默成功。
	Delete(ctx context.Context, key string) error

	// Keys 按插入顺序返回当前全部 key。
	Keys(ctx context.Context) ([]string, error)

	// Len 返回当前条目数。
	Len(ctx context.Context) (int, error)
}

// Payload 描述一次待写入的响应快照。
type Payload struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry 表示一次缓存命中结果。Seq 为仓库内单调递增的插入序号。
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	StoredAt time.Time   `json:"stored_at"`
	Seq      int64       `json:"seq"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
