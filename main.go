package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/config"
	"github.com/field-hub/field-hub/internal/logging"
	"github.com/field-hub/field-hub/internal/proxy"
	"github.com/field-hub/field-hub/internal/queue"
	"github.com/field-hub/field-hub/internal/routeclass"
	"github.com/field-hub/field-hub/internal/server"
	"github.com/field-hub/field-hub/internal/server/routes"
	"github.com/field-hub/field-hub/internal/store"
	"github.com/field-hub/field-hub/internal/strategy"
	"github.com/field-hub/field-hub/internal/syncer"
	"github.com/field-hub/field-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Global.Upstream
		fields["generation"] = cfg.Global.Generation
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	upstream, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		fmt.Fprintf(stdErr, "解析上游地址失败: %v\n", err)
		return 1
	}

	selector, err := routeclass.NewSelector(cfg.Routes)
	if err != nil {
		fmt.Fprintf(stdErr, "构建路由分类器失败: %v\n", err)
		return 1
	}

	// CLI 启动遵循“配置 → 仓库代际 → 变更队列 → 策略执行器 → Fiber server”顺序，
	// 保证所有请求共享统一的缓存实例与同步协调器。
	stores, err := store.NewManager(cfg.Global.StoragePath, cfg.Global.Generation,
		cfg.Global.DynamicMaxEntries, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存仓库失败: %v\n", err)
		return 1
	}

	q, err := queue.Open(cfg.Global.QueuePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化变更队列失败: %v\n", err)
		return 1
	}
	defer q.Close()

	httpClient := server.NewUpstreamClient(cfg)
	fetcher := strategy.NewHTTPFetcher(httpClient)

	rootURL := upstream.ResolveReference(&url.URL{Path: cfg.Routes.RootDocument})
	executor := strategy.NewExecutor(fetcher, stores, logger, strategy.Options{
		Timeout: cfg.Global.NetworkTimeout.DurationValue(),
		RootURL: rootURL.String(),
	})

	coordinator := syncer.NewCoordinator(q, fetcher, stores, logger, upstream, cfg.Routes.RefreshPaths)
	handler := proxy.NewHandler(selector, executor, q, fetcher, logger, upstream)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Global.Upstream
	fields["generation"] = cfg.Global.Generation
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, stores, q, coordinator, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("field-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FIELD_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FIELD_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	handler server.InterceptHandler,
	stores *store.Manager,
	q *queue.Store,
	coordinator *syncer.Coordinator,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Intercept:  handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, stores, q, coordinator, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
