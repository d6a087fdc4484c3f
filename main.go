package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rpki-cache/rpki-cache/internal/cache"
	"github.com/rpki-cache/rpki-cache/internal/config"
	"github.com/rpki-cache/rpki-cache/internal/fetch"
	"github.com/rpki-cache/rpki-cache/internal/logging"
	"github.com/rpki-cache/rpki-cache/internal/server"
	"github.com/rpki-cache/rpki-cache/internal/server/routes"
	"github.com/rpki-cache/rpki-cache/internal/uri"
	"github.com/rpki-cache/rpki-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	runOnce     bool
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
		fields["tals"] = len(cfg.Tals)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	seeds, err := seedURIs(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "解析 TAL 地址失败: %v\n", err)
		return 1
	}

	// 启动遵循“配置 → 下载器 → 缓存 → Fiber server → 验证循环”顺序，
	// 保证所有轮次共享同一棵缓存树与同一份传输配置。
	rsyncer, err := fetch.NewRsync(fetch.RsyncOptions{
		LocalRepository: cfg.Global.LocalRepository,
		Logger:          logger,
		Program:         cfg.Global.RsyncProgram,
		Timeout:         cfg.Global.RsyncTimeout.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 rsync 下载器失败: %v\n", err)
		return 1
	}

	fetcher, err := fetch.NewHTTP(fetch.HTTPOptions{
		LocalRepository: cfg.Global.LocalRepository,
		Logger:          logger,
		Client:          fetch.NewClient(cfg.Global.HTTPTimeout.DurationValue()),
		MaxRetries:      cfg.Global.MaxRetries,
		InitialBackoff:  cfg.Global.InitialBackoff.DurationValue(),
		UserAgent:       version.Full(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 HTTPS 下载器失败: %v\n", err)
		return 1
	}

	repoCache, err := cache.New(cache.Options{
		LocalRepository: cfg.Global.LocalRepository,
		Logger:          logger,
		Rsync:           rsyncer,
		HTTP:            fetcher,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化本地仓库缓存失败: %v\n", err)
		return 1
	}
	defer repoCache.Teardown()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["tals"] = len(cfg.Tals)
	fields["repository"] = cfg.Global.LocalRepository
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if opts.runOnce {
		runCycle(context.Background(), repoCache, seeds, logger)
		return 0
	}

	if err := startStatusServer(cfg, repoCache, logger); err != nil {
		fmt.Fprintf(stdErr, "诊断服务启动失败: %v\n", err)
		return 1
	}

	runLoop(repoCache, seeds, cfg.Global.ValidationInterval.DurationValue(), logger)
	return 0
}

// runLoop 按固定间隔执行验证轮次，收到 SIGINT/SIGTERM 时退出。
func runLoop(repoCache *cache.Cache, seeds []*uri.URI, interval time.Duration, logger *logrus.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ctx := context.Background()
	for {
		runCycle(ctx, repoCache, seeds, logger)

		select {
		case sig := <-signals:
			logger.WithFields(logrus.Fields{
				"action": "shutdown",
				"signal": sig.String(),
			}).Info("收到退出信号")
			return
		case <-time.After(interval):
		}
	}
}

// runCycle 执行一轮完整验证：Prepare → 逐个下载种子 URI → Cleanup。
// 单个 URI 的失败只计数，不会中断轮次。
func runCycle(ctx context.Context, repoCache *cache.Cache, seeds []*uri.URI, logger *logrus.Logger) {
	repoCache.Prepare()
	runID := repoCache.Stats().RunID

	downloads, failures := 0, 0
	for _, u := range seeds {
		changed, err := repoCache.Download(ctx, u)
		downloads++

		fields := logging.DownloadFields(runID, u.Type().String(), u.Global(), errorCode(err), err == nil)
		if err != nil {
			failures++
			logger.WithFields(fields).Warnf("下载失败: %v", err)
			continue
		}
		fields["changed"] = changed
		logger.WithFields(fields).Debug("下载完成")
	}

	repoCache.Cleanup()
	logger.WithFields(logging.RunFields(runID, downloads, failures)).Info("验证轮次结束")
}

// errorCode 提取下载错误携带的结果码，供日志字段使用。
func errorCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return 1
}

// seedURIs 把所有 TAL 的地址展开为一轮验证要拉取的 URI 列表。
func seedURIs(cfg *config.Config) ([]*uri.URI, error) {
	var seeds []*uri.URI
	for _, tal := range cfg.Tals {
		uris, err := tal.ParseURIs()
		if err != nil {
			return nil, fmt.Errorf("Tal[%s]: %w", tal.Name, err)
		}
		seeds = append(seeds, uris...)
	}
	return seeds, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("rpki-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		runOnce    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 RPKI_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&runOnce, "once", false, "只执行一轮验证后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("RPKI_CACHE_CONFIG")
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
		runOnce:     runOnce,
	}, nil
}

func startStatusServer(cfg *config.Config, repoCache *cache.Cache, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Cache:      repoCache,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, repoCache)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Global.ListenPort)
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   cfg.Global.ListenPort,
		}).Info("诊断服务启动")
		if err := app.Listen(addr); err != nil {
			logger.WithField("action", "listen").Errorf("诊断服务退出: %v", err)
		}
	}()
	return nil
}
