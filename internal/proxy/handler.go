package proxy

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/logging"
	"github.com/field-hub/field-hub/internal/queue"
	"github.com/field-hub/field-hub/internal/routeclass"
	"github.com/field-hub/field-hub/internal/server"
	"github.com/field-hub/field-hub/internal/strategy"
)

// Handler 负责 orchestrate “分类 → 策略执行 → 响应合成” 的拦截全流程；
// 非 GET 写请求透传上游，断网时改道进入变更队列而非丢弃。
type Handler struct {
	selector *routeclass.Selector
	executor *strategy.Executor
	queue    *queue.Store
	fetcher  strategy.Fetcher
	logger   *logrus.Logger
	upstream *url.URL
}

// NewHandler constructs the interception handler with shared collaborators.
func NewHandler(
	selector *routeclass.Selector,
	executor *strategy.Executor,
	q *queue.Store,
	fetcher strategy.Fetcher,
	logger *logrus.Logger,
	upstream *url.URL,
) *Handler {
	return &Handler{
		selector: selector,
		executor: executor,
		queue:    q,
		fetcher:  fetcher,
		logger:   logger,
		upstream: upstream,
	}
}

// Handle 实现 server.InterceptHandler。任何阶段出错都收敛为合成响应并输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	clean := normalizeRequestPath(string(c.Request().URI().Path()))
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)

	class := h.selector.Classify(routeclass.Request{
		Method: c.Method(),
		Path:   clean,
		Accept: string(c.Request().Header.Peek("Accept")),
		Mode:   string(c.Request().Header.Peek("Sec-Fetch-Mode")),
	})

	ctx := requestContext(c)

	if class == routeclass.ClassPassthrough {
		return h.forwardMutation(ctx, c, clean, rawQuery, requestID, started)
	}

	req := &strategy.Request{
		Method: http.MethodGet,
		URL:    h.upstreamURL(clean, rawQuery).String(),
		Header: h.forwardHeaders(c),
	}
	result := h.executor.Execute(ctx, class, req)
	return h.writeResult(c, class, clean, result, requestID, started)
}

// forwardMutation 透传写请求；网络失败时将操作持久化进变更队列并应答 202。
// 队列写入失败属于显式的可用性优先降级：记录日志后该写操作即告丢失。
func (h *Handler) forwardMutation(
	ctx context.Context,
	c fiber.Ctx,
	clean string,
	rawQuery []byte,
	requestID string,
	started time.Time,
) error {
	body := append([]byte(nil), c.Body()...)

	resp, err := h.fetcher.Do(ctx, &strategy.Request{
		Method: c.Method(),
		URL:    h.upstreamURL(clean, rawQuery).String(),
		Header: h.forwardHeaders(c),
		Body:   body,
	})
	if err == nil {
		copyResponseHeaders(c, resp.Header)
		setRequestIDHeader(c, requestID)
		c.Status(resp.Status)
		h.logResult("passthrough", clean, requestID, resp.Status, false, started, nil)
		return c.Send(resp.Body)
	}

	endpoint := clean
	if len(rawQuery) > 0 {
		endpoint += "?" + string(rawQuery)
	}
	op, qErr := h.queue.Enqueue(ctx, queue.PendingOperation{
		Kind:      queue.KindForPath(clean),
		Endpoint:  endpoint,
		Method:    c.Method(),
		AuthToken: string(c.Request().Header.Peek("Authorization")),
		Body:      body,
	})
	if qErr != nil {
		h.logResult("passthrough", clean, requestID, fiber.StatusServiceUnavailable, false, started, qErr)
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(fiber.Map{"offline": true, "error": "write_not_queued"})
	}

	h.logResult("passthrough", clean, requestID, fiber.StatusAccepted, false, started, nil)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":       true,
		"operation_id": op.ID,
		"kind":         string(op.Kind),
	})
}

func (h *Handler) writeResult(
	c fiber.Ctx,
	class routeclass.Class,
	clean string,
	result *strategy.Result,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, result.Response.Header)
	c.Set("X-Field-Hub-Strategy", result.Strategy)
	if result.CacheHit {
		c.Set("X-Field-Hub-Cache-Hit", "true")
	} else {
		c.Set("X-Field-Hub-Cache-Hit", "false")
	}
	setRequestIDHeader(c, requestID)
	c.Status(result.Response.Status)

	h.logIntercept(class, result, clean, requestID, started)
	return c.Send(result.Response.Body)
}

func (h *Handler) logIntercept(
	class routeclass.Class,
	result *strategy.Result,
	clean string,
	requestID string,
	started time.Time,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(string(class), result.Strategy, clean, result.CacheHit)
	fields["action"] = "intercept"
	fields["status"] = result.Response.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

func (h *Handler) logResult(
	strategyName string,
	clean string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(string(routeclass.ClassPassthrough), strategyName, clean, cacheHit)
	fields["action"] = "intercept"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("mutation_diverted")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

func (h *Handler) upstreamURL(clean string, rawQuery []byte) *url.URL {
	relative := &url.URL{Path: clean}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	return h.upstream.ResolveReference(relative)
}

// forwardHeaders 收集待转发到上游的请求头，剔除 hop-by-hop 字段。
func (h *Handler) forwardHeaders(c fiber.Ctx) http.Header {
	incoming := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		incoming.Add(string(key), string(value))
	})

	header := http.Header{}
	server.CopyHeaders(header, incoming)
	header.Del("Accept-Encoding")
	header.Del("Host")
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}
