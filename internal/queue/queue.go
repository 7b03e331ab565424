package queue

import (
	"time"
)

// Kind 区分三类待同步写操作，不同类别由不同触发标签驱动重放。
type Kind string

const (
	KindEvaluationSubmit Kind = "evaluation-submit"
	KindUserUpdate       Kind = "user-update"
	KindGeneric          Kind = "generic"
)

// PendingOperation 是一次因断网而延迟的写操作。记录仅在远端确认成功后
// 删除（at-least-once），失败时原位保留等待下一次同步。
type PendingOperation struct {
	ID         string
	Kind       Kind
	Endpoint   string
	Method     string
	AuthToken  string
	Body       []byte
	EnqueuedAt time.Time
}

// KindForPath 根据业务端点推导操作类别，未识别的端点归为 generic。
func KindForPath(path string) Kind {
	switch {
	case pathHasPrefix(path, "/api/evaluations"):
		return KindEvaluationSubmit
	case pathHasPrefix(path, "/api/users"):
		return KindUserUpdate
	default:
		return KindGeneric
	}
}

func pathHasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
