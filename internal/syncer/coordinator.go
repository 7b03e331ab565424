package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/logging"
	"github.com/field-hub/field-hub/internal/queue"
	"github.com/field-hub/field-hub/internal/store"
	"github.com/field-hub/field-hub/internal/strategy"
)

// Tag 标识一次联网恢复信号的范围。
type Tag string

const (
	// TagBackgroundSync 触发全量同步：两个队列重放 + 读穿缓存刷新。
	TagBackgroundSync Tag = "background-sync"
	// TagSyncEvaluations 仅重放评估提交队列。
	TagSyncEvaluations Tag = "sync-evaluations"
	// TagSyncUserData 仅重放用户数据（含 generic）队列。
	TagSyncUserData Tag = "sync-user-data"
)

// ErrUnknownTag 表示触发标签未注册。
type ErrUnknownTag struct {
	Tag Tag
}

func (e ErrUnknownTag) Error() string {
	return fmt.Sprintf("unknown sync tag: %s", e.Tag)
}

// Coordinator 在联网恢复信号到达时消费变更队列并刷新读穿缓存。
// 单个队列内严格按入队顺序串行重放；不同子任务彼此并发。
type Coordinator struct {
	queue        *queue.Store
	fetcher      strategy.Fetcher
	stores       *store.Manager
	logger       *logrus.Logger
	upstream     *url.URL
	refreshPaths []string
	dispatch     map[Tag][]func(context.Context)
}

// NewCoordinator 构建协调器并建立 tag → 子任务的分发表。
func NewCoordinator(
	q *queue.Store,
	fetcher strategy.Fetcher,
	stores *store.Manager,
	logger *logrus.Logger,
	upstream *url.URL,
	refreshPaths []string,
) *Coordinator {
	c := &Coordinator{
		queue:        q,
		fetcher:      fetcher,
		stores:       stores,
		logger:       logger,
		upstream:     upstream,
		refreshPaths: refreshPaths,
	}
	c.dispatch = map[Tag][]func(context.Context){
		TagBackgroundSync:  {c.replayEvaluations, c.replayUserData, c.refreshReadThrough},
		TagSyncEvaluations: {c.replayEvaluations},
		TagSyncUserData:    {c.replayUserData},
	}
	return c
}

// Trigger 执行指定标签对应的全部子任务并等待完成。
// 子任务内部的失败逐操作隔离，不会传播为 Trigger 错误。
func (c *Coordinator) Trigger(ctx context.Context, tag Tag) error {
	tasks, ok := c.dispatch[tag]
	if !ok {
		return ErrUnknownTag{Tag: tag}
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(task)
	}
	wg.Wait()

	if c.logger != nil {
		c.logger.WithFields(logging.SyncFields(string(tag), "")).Info("sync_complete")
	}
	return nil
}

func (c *Coordinator) replayEvaluations(ctx context.Context) {
	c.replayQueue(ctx, "evaluations", queue.KindEvaluationSubmit)
}

func (c *Coordinator) replayUserData(ctx context.Context) {
	c.replayQueue(ctx, "user-data", queue.KindUserUpdate, queue.KindGeneric)
}

// replayQueue 按入队顺序串行重放一个队列。操作仅在远端确认成功后删除；
// 单个操作失败不阻断后续操作（失败隔离，at-least-once）。
func (c *Coordinator) replayQueue(ctx context.Context, name string, kinds ...queue.Kind) {
	ops, err := c.queue.List(ctx, kinds...)
	if err != nil {
		c.warn(err, name, "queue_list_failed")
		return
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			c.warn(err, name, "sync_canceled")
			return
		}
		if err := c.replayOne(ctx, op); err != nil {
			c.warn(err, name, "replay_failed")
			continue
		}
		if err := c.queue.Remove(ctx, op.ID); err != nil {
			c.warn(err, name, "queue_remove_failed")
			continue
		}
		if c.logger != nil {
			fields := logging.SyncFields("", name)
			fields["operation_id"] = op.ID
			fields["endpoint"] = op.Endpoint
			c.logger.WithFields(fields).Info("operation_replayed")
		}
	}
}

func (c *Coordinator) replayOne(ctx context.Context, op queue.PendingOperation) error {
	// Endpoint 可能携带查询串，必须按相对引用解析而非仅作 Path 拼接。
	relative, err := url.Parse(op.Endpoint)
	if err != nil {
		return fmt.Errorf("operation %s has invalid endpoint %q: %w", op.ID, op.Endpoint, err)
	}
	target := c.upstream.ResolveReference(relative)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if op.AuthToken != "" {
		header.Set("Authorization", op.AuthToken)
	}

	resp, err := c.fetcher.Do(ctx, &strategy.Request{
		Method: op.Method,
		URL:    target.String(),
		Header: header,
		Body:   op.Body,
	})
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Errorf("remote rejected operation %s: status %d", op.ID, resp.Status)
	}
	return nil
}

// refreshReadThrough 主动刷新固定的读穿缓存路径列表。
func (c *Coordinator) refreshReadThrough(ctx context.Context) {
	for _, path := range c.refreshPaths {
		if err := ctx.Err(); err != nil {
			return
		}
		target := c.upstream.ResolveReference(&url.URL{Path: path})
		resp, err := c.fetcher.Do(ctx, &strategy.Request{Method: http.MethodGet, URL: target.String()})
		if err != nil {
			c.warn(err, "refresh", "refresh_fetch_failed")
			continue
		}
		if resp.Status != http.StatusOK {
			continue
		}
		key := strategy.CacheKey(http.MethodGet, target.String())
		if _, err := c.stores.Dynamic().Put(ctx, key, store.Payload{
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
		}); err != nil {
			c.warn(err, "refresh", "refresh_store_failed")
		}
	}
}

func (c *Coordinator) warn(err error, queueName, code string) {
	if c.logger == nil {
		return
	}
	c.logger.WithError(err).WithFields(logging.SyncFields("", queueName)).Warn(code)
}
