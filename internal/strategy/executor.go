package strategy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/routeclass"
	"github.com/field-hub/field-hub/internal/store"
)

// 策略名常量，用于日志与响应头输出。
const (
	NameCacheFirst           = "cache-first"
	NameNetworkFirstTimeout  = "network-first-timeout"
	NameNetworkFirstFallback = "network-first-fallback"
	NameCacheFirstFallback   = "cache-first-fallback"
	NameStaleWhileRevalidate = "stale-while-revalidate"
)

// Result 组合策略产出的响应与观测元数据。
type Result struct {
	Response *Response
	Strategy string
	CacheHit bool
}

// Options 控制 Executor 的可调参数。
type Options struct {
	// Timeout 是 network-first-timeout 策略的竞速上限，默认 5s。
	Timeout time.Duration
	// RootURL 是导航兜底所用根文档的完整上游地址。
	RootURL string
}

// Executor 实现五种取数策略。任何网络/缓存失败都会在本层收敛为
// 合成兜底响应，绝不向调用方抛出未处理错误。
type Executor struct {
	fetcher  Fetcher
	stores   *store.Manager
	logger   *logrus.Logger
	timeout  time.Duration
	rootURL  string
	dispatch map[routeclass.Class]func(context.Context, *Request) *Result

	// background 跟踪 stale-while-revalidate 的后台刷新任务。
	background sync.WaitGroup
}

// NewExecutor 构建策略执行器，dispatch 表在此一次性建立。
func NewExecutor(fetcher Fetcher, stores *store.Manager, logger *logrus.Logger, opts Options) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	e := &Executor{
		fetcher: fetcher,
		stores:  stores,
		logger:  logger,
		timeout: timeout,
		rootURL: opts.RootURL,
	}
	e.dispatch = map[routeclass.Class]func(context.Context, *Request) *Result{
		routeclass.ClassStaticAsset: e.cacheFirst,
		routeclass.ClassAPI:         e.networkFirstTimeout,
		routeclass.ClassNavigation:  e.networkFirstFallback,
		routeclass.ClassImage:       e.cacheFirstFallback,
		routeclass.ClassOther:       e.staleWhileRevalidate,
	}
	return e
}

// CacheKey 规范化缓存键：仅 GET 可缓存，键由方法 + 完整 URL 组成。
func CacheKey(method, url string) string {
	return method + " " + url
}

// Execute 根据路由类别分发到对应策略。passthrough 类别不应进入本层。
func (e *Executor) Execute(ctx context.Context, class routeclass.Class, req *Request) *Result {
	if fn, ok := e.dispatch[class]; ok {
		return fn(ctx, req)
	}
	return e.staleWhileRevalidate(ctx, req)
}

// cacheFirst：静态资源命中即返回，未命中回源并写入静态仓库。
func (e *Executor) cacheFirst(ctx context.Context, req *Request) *Result {
	return e.serveCacheFirst(ctx, req, e.stores.Static(), NameCacheFirst, resourceUnavailable)
}

// cacheFirstFallback：图片与 cacheFirst 同语义，但最终失败返回占位图。
func (e *Executor) cacheFirstFallback(ctx context.Context, req *Request) *Result {
	return e.serveCacheFirst(ctx, req, e.stores.Static(), NameCacheFirstFallback, imagePlaceholder)
}

func (e *Executor) serveCacheFirst(
	ctx context.Context,
	req *Request,
	target store.Store,
	name string,
	fallback func() *Response,
) *Result {
	key := CacheKey(req.Method, req.URL)

	entry, err := target.Get(ctx, key)
	switch {
	case err == nil:
		return &Result{Response: responseFromEntry(entry), Strategy: name, CacheHit: true}
	case errors.Is(err, store.ErrNotFound):
		// miss, continue
	default:
		e.warnStore(err, "cache_get_failed", key)
	}

	resp, fetchErr := e.fetcher.Do(ctx, req)
	if fetchErr != nil {
		e.debugNetwork(fetchErr, name, key)
		return &Result{Response: fallback(), Strategy: name}
	}
	if isCacheableStatus(resp.Status) {
		e.put(ctx, target, key, resp)
	}
	return &Result{Response: resp, Strategy: name}
}

// networkFirstTimeout：网络取数与固定超时竞速，超时或失败回退动态缓存。
// 竞速失败不会中止底层请求，迟到的结果被整体丢弃（含缓存写入）。
func (e *Executor) networkFirstTimeout(ctx context.Context, req *Request) *Result {
	key := CacheKey(req.Method, req.URL)

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := e.fetcher.Do(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err == nil {
			if isCacheableStatus(out.resp.Status) {
				e.put(ctx, e.stores.Dynamic(), key, out.resp)
			}
			return &Result{Response: out.resp, Strategy: NameNetworkFirstTimeout}
		}
		e.debugNetwork(out.err, NameNetworkFirstTimeout, key)
	case <-timer.C:
		// timeout wins; the in-flight fetch keeps running but its result is dropped
	}

	if entry, err := e.stores.Dynamic().Get(ctx, key); err == nil {
		return &Result{Response: responseFromEntry(entry), Strategy: NameNetworkFirstTimeout, CacheHit: true}
	} else if !errors.Is(err, store.ErrNotFound) {
		e.warnStore(err, "cache_get_failed", key)
	}
	return &Result{Response: apiUnavailable(), Strategy: NameNetworkFirstTimeout}
}

// networkFirstFallback：导航请求优先回源；失败时依次回退动态缓存、
// 缓存的根文档、离线仓库，最终合成内联离线页（状态码 200）。
func (e *Executor) networkFirstFallback(ctx context.Context, req *Request) *Result {
	key := CacheKey(req.Method, req.URL)

	resp, err := e.fetcher.Do(ctx, req)
	if err == nil {
		if isCacheableStatus(resp.Status) {
			e.put(ctx, e.stores.Dynamic(), key, resp)
		}
		return &Result{Response: resp, Strategy: NameNetworkFirstFallback}
	}
	e.debugNetwork(err, NameNetworkFirstFallback, key)

	if entry, getErr := e.stores.Dynamic().Get(ctx, key); getErr == nil {
		return &Result{Response: responseFromEntry(entry), Strategy: NameNetworkFirstFallback, CacheHit: true}
	}

	if e.rootURL != "" {
		rootKey := CacheKey(http.MethodGet, e.rootURL)
		if entry, getErr := e.stores.Dynamic().Get(ctx, rootKey); getErr == nil {
			return &Result{Response: responseFromEntry(entry), Strategy: NameNetworkFirstFallback, CacheHit: true}
		}
		if entry, getErr := e.stores.Offline().Get(ctx, rootKey); getErr == nil {
			return &Result{Response: responseFromEntry(entry), Strategy: NameNetworkFirstFallback, CacheHit: true}
		}
	}

	return &Result{Response: offlinePage(), Strategy: NameNetworkFirstFallback}
}

// staleWhileRevalidate：命中立即返回旧值，并发起非阻塞的后台刷新；
// 未命中时网络结果本身就是响应路径。
func (e *Executor) staleWhileRevalidate(ctx context.Context, req *Request) *Result {
	key := CacheKey(req.Method, req.URL)

	entry, err := e.stores.Dynamic().Get(ctx, key)
	if err == nil {
		e.background.Add(1)
		revalidateCtx := context.WithoutCancel(ctx)
		go func() {
			defer e.background.Done()
			e.revalidate(revalidateCtx, key, req)
		}()
		return &Result{Response: responseFromEntry(entry), Strategy: NameStaleWhileRevalidate, CacheHit: true}
	}
	if !errors.Is(err, store.ErrNotFound) {
		e.warnStore(err, "cache_get_failed", key)
	}

	resp, fetchErr := e.fetcher.Do(ctx, req)
	if fetchErr != nil {
		e.debugNetwork(fetchErr, NameStaleWhileRevalidate, key)
		return &Result{Response: resourceUnavailable(), Strategy: NameStaleWhileRevalidate}
	}
	if isCacheableStatus(resp.Status) {
		e.put(ctx, e.stores.Dynamic(), key, resp)
	}
	return &Result{Response: resp, Strategy: NameStaleWhileRevalidate}
}

// revalidate 后台刷新缓存条目；失败静默降级，不产生外部可见影响。
func (e *Executor) revalidate(ctx context.Context, key string, req *Request) {
	resp, err := e.fetcher.Do(ctx, req)
	if err != nil {
		e.debugNetwork(err, "revalidate", key)
		return
	}
	if isCacheableStatus(resp.Status) {
		e.put(ctx, e.stores.Dynamic(), key, resp)
	}
}

func (e *Executor) put(ctx context.Context, target store.Store, key string, resp *Response) {
	_, err := target.Put(ctx, key, store.Payload{
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
	})
	if err != nil {
		e.warnStore(err, "cache_put_failed", key)
	}
}

func (e *Executor) warnStore(err error, code, key string) {
	if e.logger == nil {
		return
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"action": "strategy",
		"key":    key,
	}).Warn(code)
}

func (e *Executor) debugNetwork(err error, strategy, key string) {
	if e.logger == nil {
		return
	}
	e.logger.WithError(err).WithFields(logrus.Fields{
		"action":   "strategy",
		"strategy": strategy,
		"key":      key,
	}).Debug("network_fetch_failed")
}

func responseFromEntry(entry *store.Entry) *Response {
	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	for key, values := range entry.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	return &Response{Status: status, Header: header, Body: entry.Body}
}

func isCacheableStatus(status int) bool {
	return status == http.StatusOK
}
