package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/config"
	"github.com/field-hub/field-hub/internal/proxy"
	"github.com/field-hub/field-hub/internal/queue"
	"github.com/field-hub/field-hub/internal/routeclass"
	"github.com/field-hub/field-hub/internal/server"
	"github.com/field-hub/field-hub/internal/server/routes"
	"github.com/field-hub/field-hub/internal/store"
	"github.com/field-hub/field-hub/internal/strategy"
	"github.com/field-hub/field-hub/internal/syncer"
)

// upstreamStub 模拟后端。down 为 true 时直接挂断连接，客户端表现为网络错误。
type upstreamStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	down     bool
	requests []stubRequest
	bodies   map[string][]byte
}

type stubRequest struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{bodies: map[string][]byte{}}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start stub listener: %v", err)
	}

	stub.server = &http.Server{Handler: http.HandlerFunc(stub.handle)}
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)

	return stub
}

func (s *upstreamStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *upstreamStub) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *upstreamStub) SetBody(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *upstreamStub) Requests() []stubRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stubRequest(nil), s.requests...)
}

func (s *upstreamStub) hits(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *upstreamStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()

	if down {
		// 挂断连接而非返回 5xx，让客户端得到真正的网络错误。
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			panic("stub response writer must support hijacking")
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, stubRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
	payload, ok := s.bodies[r.URL.Path]
	s.mu.Unlock()

	if r.Method == http.MethodGet && !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
	}
	_, _ = w.Write(payload)
}

type gatewayFixture struct {
	app    *fiber.App
	stores *store.Manager
	queue  *queue.Store
	stub   *upstreamStub
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	stub := newUpstreamStub(t)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:        5000,
			StoragePath:       t.TempDir(),
			QueuePath:         filepath.Join(t.TempDir(), "queue.db"),
			Upstream:          stub.URL,
			Generation:        1,
			DynamicMaxEntries: 50,
			NetworkTimeout:    config.Duration(2 * time.Second),
			UpstreamTimeout:   config.Duration(5 * time.Second),
		},
		Routes: config.RoutesConfig{
			StaticPrefixes:   []string{"/static/"},
			StaticExtensions: []string{".css", ".js"},
			APIPrefixes:      []string{"/api/"},
			ImageExtensions:  []string{".png", ".gif"},
			RefreshPaths:     []string{"/api/evaluations"},
			RootDocument:     "/",
		},
	}

	selector, err := routeclass.NewSelector(cfg.Routes)
	if err != nil {
		t.Fatalf("selector error: %v", err)
	}

	stores, err := store.NewManager(cfg.Global.StoragePath, cfg.Global.Generation,
		cfg.Global.DynamicMaxEntries, logger)
	if err != nil {
		t.Fatalf("store manager error: %v", err)
	}

	q, err := queue.Open(cfg.Global.QueuePath)
	if err != nil {
		t.Fatalf("queue open error: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	upstream, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		t.Fatalf("upstream url error: %v", err)
	}

	fetcher := strategy.NewHTTPFetcher(server.NewUpstreamClient(cfg))
	executor := strategy.NewExecutor(fetcher, stores, logger, strategy.Options{
		Timeout: cfg.Global.NetworkTimeout.DurationValue(),
		RootURL: upstream.ResolveReference(&url.URL{Path: cfg.Routes.RootDocument}).String(),
	})
	coordinator := syncer.NewCoordinator(q, fetcher, stores, logger, upstream, cfg.Routes.RefreshPaths)
	handler := proxy.NewHandler(selector, executor, q, fetcher, logger, upstream)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Intercept:  handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterControlRoutes(app, stores, q, coordinator, logger)

	return &gatewayFixture{app: app, stores: stores, queue: q, stub: stub}
}

func (f *gatewayFixture) test(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := f.app.Test(req, 10*time.Second)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func TestOfflineEvaluationQueuedThenSynced(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.stub.SetDown(true)

	req := httptest.NewRequest(http.MethodPost, "http://field.hub.local/api/evaluations",
		bytes.NewReader([]byte(`{"plot":"A-12","score":4}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer field-token")
	resp := fixture.test(t, req)
	if resp.StatusCode != fiber.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202 while offline, got %d (body=%s)", resp.StatusCode, string(raw))
	}

	var ack struct {
		Queued      bool   `json:"queued"`
		OperationID string `json:"operation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	resp.Body.Close()
	if !ack.Queued || ack.OperationID == "" {
		t.Fatalf("expected queued ack, got %+v", ack)
	}

	// 网络恢复后触发同步，队列应被重放并清空。
	fixture.stub.SetDown(false)
	fixture.stub.SetBody("/api/evaluations", []byte(`{"items":[]}`))

	syncReq := httptest.NewRequest(http.MethodPost, "http://field.hub.local/-/sync/sync-evaluations", nil)
	syncResp := fixture.test(t, syncReq)
	if syncResp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for sync trigger, got %d", syncResp.StatusCode)
	}
	syncResp.Body.Close()

	if got := fixture.stub.hits(http.MethodPost, "/api/evaluations"); got != 1 {
		t.Fatalf("expected exactly one replayed submit, got %d", got)
	}
	replayed := fixture.stub.Requests()[0]
	if replayed.Auth != "Bearer field-token" {
		t.Fatalf("auth token not replayed: %s", replayed.Auth)
	}
	if string(replayed.Body) != `{"plot":"A-12","score":4}` {
		t.Fatalf("body not replayed verbatim: %s", string(replayed.Body))
	}

	ops, err := fixture.queue.List(context.Background())
	if err != nil {
		t.Fatalf("queue list error: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("queue should be empty after sync, found %d ops", len(ops))
	}
}

func TestStaticAssetServedFromCacheAfterFirstFetch(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.stub.SetBody("/static/css/main.css", []byte("body { margin: 0 }"))

	doRequest := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "http://field.hub.local/static/css/main.css", nil)
		return fixture.test(t, req)
	}

	resp := doRequest()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Field-Hub-Cache-Hit"); hit != "false" {
		t.Fatalf("first request must miss, got %s", hit)
	}
	resp.Body.Close()

	resp2 := doRequest()
	if hit := resp2.Header.Get("X-Field-Hub-Cache-Hit"); hit != "true" {
		t.Fatalf("second request must hit cache, got %s", hit)
	}
	body, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if string(body) != "body { margin: 0 }" {
		t.Fatalf("unexpected cached body: %s", string(body))
	}

	if got := fixture.stub.hits(http.MethodGet, "/static/css/main.css"); got != 1 {
		t.Fatalf("expected single upstream fetch, got %d", got)
	}

	// 断网后缓存继续可用。
	fixture.stub.SetDown(true)
	resp3 := doRequest()
	if resp3.StatusCode != fiber.StatusOK {
		t.Fatalf("cached asset must survive offline, got %d", resp3.StatusCode)
	}
	resp3.Body.Close()
}

func TestGenerationActivationDropsOldCache(t *testing.T) {
	fixture := newGatewayFixture(t)
	fixture.stub.SetBody("/static/app.js", []byte("console.log(1)"))

	req := httptest.NewRequest(http.MethodGet, "http://field.hub.local/static/app.js", nil)
	resp := fixture.test(t, req)
	resp.Body.Close()
	if got := fixture.stub.hits(http.MethodGet, "/static/app.js"); got != 1 {
		t.Fatalf("expected initial fetch, got %d", got)
	}

	activate := httptest.NewRequest(http.MethodPost, "http://field.hub.local/-/control/activate",
		bytes.NewReader([]byte(`{"generation":2}`)))
	activate.Header.Set("Content-Type", "application/json")
	activateResp := fixture.test(t, activate)
	if activateResp.StatusCode != fiber.StatusOK {
		t.Fatalf("activate failed with %d", activateResp.StatusCode)
	}
	activateResp.Body.Close()

	req2 := httptest.NewRequest(http.MethodGet, "http://field.hub.local/static/app.js", nil)
	resp2 := fixture.test(t, req2)
	resp2.Body.Close()
	if hit := resp2.Header.Get("X-Field-Hub-Cache-Hit"); hit != "false" {
		t.Fatalf("new generation must start cold, got hit=%s", hit)
	}
	if got := fixture.stub.hits(http.MethodGet, "/static/app.js"); got != 2 {
		t.Fatalf("expected refetch after activation, got %d", got)
	}
}
