package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/config"
	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/lifecycle"
	"github.com/any-hub/precache/internal/logging"
	"github.com/any-hub/precache/internal/proxy"
	"github.com/any-hub/precache/internal/server"
	"github.com/any-hub/precache/internal/server/routes"
	"github.com/any-hub/precache/internal/version"
	"github.com/any-hub/precache/internal/worker"
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

	sameOrigin, crossOrigin := cfg.App.ManifestSummary()
	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_version"] = cfg.App.CacheVersion
		fields["origin"] = cfg.App.Origin
		fields["manifest_same_origin"] = sameOrigin
		fields["manifest_cross_origin"] = crossOrigin
		fields["storage_backend"] = cfg.Global.StorageBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI 启动遵循“配置 → 存储 → 网络层 → 生命周期/分发器 → worker → Fiber server”顺序，
	// 保证 install/activate 完成后才开始拦截请求。
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer rt.storage.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_version"] = cfg.App.CacheVersion
	fields["origin"] = cfg.App.Origin
	fields["manifest_same_origin"] = sameOrigin
	fields["manifest_cross_origin"] = crossOrigin
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := rt.worker.Start(ctx); err != nil {
		// install 失败时 worker 进入 redundant，服务仍以纯放行模式运行。
		logger.WithFields(logging.LifecycleFields("start", cfg.App.CacheVersion)).
			WithError(err).Error("worker_start_failed")
	}

	if err := startHTTPServer(ctx, cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	rt.worker.Drain()
	return 0
}

// appRuntime 聚合一次启动中共享的核心组件。
type appRuntime struct {
	storage cache.Storage
	worker  *worker.Worker
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*appRuntime, error) {
	storage, err := cache.Open(ctx, cache.Options{
		Backend: cfg.Global.StorageBackend,
		Path:    cfg.Global.StoragePath,
		Minio: cache.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(fetch.NewClient(cfg.Global.UpstreamTimeout.DurationValue()), cfg.App.Origin)

	manager, err := lifecycle.New(lifecycle.Options{
		Version:     cfg.App.CacheVersion,
		Origin:      cfg.App.Origin,
		Manifest:    cfg.App.Manifest,
		Storage:     storage,
		Fetcher:     fetcher,
		Logger:      logger,
		Concurrency: cfg.Global.InstallConcurrency,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	dispatcher, err := proxy.NewDispatcher(proxy.Options{
		Origin:  cfg.App.Origin,
		Version: cfg.App.CacheVersion,
		Storage: storage,
		Fetcher: fetcher,
		Logger:  logger,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	w, err := worker.New(worker.Options{
		Manager:    manager,
		Dispatcher: dispatcher,
		Fetcher:    fetcher,
		Logger:     logger,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return &appRuntime{storage: storage, worker: w}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("precache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PRECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PRECACHE_CONFIG")
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

func startHTTPServer(ctx context.Context, cfg *config.Config, rt *appRuntime, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Interceptor: rt.worker,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, rt.worker, rt.storage)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
