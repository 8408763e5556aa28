package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fbahunter/internal/api"
	"fbahunter/internal/browser"
	"fbahunter/internal/config"
	"fbahunter/internal/fetch"
	"fbahunter/internal/kv"
	"fbahunter/internal/marketplace"
	"fbahunter/internal/pipeline"
	"fbahunter/internal/pkg/breaker"
	"fbahunter/internal/pkg/dedup"
	"fbahunter/internal/pkg/logger"
	"fbahunter/internal/pkg/ratelimit"
	"fbahunter/internal/pkg/retry"
	"fbahunter/internal/profit"
	"fbahunter/internal/report"
	"fbahunter/internal/store"
	"fbahunter/internal/walker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	redisPingTimeout = 3 * time.Second
	shutdownTimeout  = 30 * time.Second
	notifyDedupTTL   = 7 * 24 * time.Hour
)

// main 是流水线的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 组装存储、浏览器会话、抓取器、匹配器与报表输出
// 3. 启动 metrics 与状态接口
// 4. 运行（或按 run_interval 周期运行）流水线
// 5. 收到 SIGINT/SIGTERM 时落盘进度并退出
func main() {
	os.Exit(run())
}

// run 返回进程退出码。所有资源在返回前通过 defer 释放。
func run() int {
	configPath := flag.String("config", "", "config file path (default configs/config.json)")
	refresh := flag.Bool("refresh", false, "ignore a fresh supplier cache and re-walk categories")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *refresh {
		cfg.App.ForceRefresh = true
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel).With(slog.String("supplier", cfg.Supplier.Name))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := openRedis(ctx, cfg.Redis, appLogger)
	if rdb != nil {
		defer rdb.Close()
	}

	kvStore, err := kv.Open(ctx, cfg.Store, rdb)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		return 1
	}
	defer kvStore.Close()

	driver, err := browser.NewDriver(cfg.Browser, appLogger)
	if err != nil {
		appLogger.Error("init browser driver failed", slog.String("error", err.Error()))
		return 1
	}
	session := browser.NewSession(driver, browser.OptionsFromConfig(cfg.Browser, appLogger))
	defer func() {
		if err := session.Close(); err != nil {
			appLogger.Warn("close browser session failed", slog.String("error", err.Error()))
		}
	}()

	latest := &api.LatestReport{}
	orch, err := buildOrchestrator(ctx, cfg, kvStore, rdb, session, latest, appLogger)
	if err != nil {
		appLogger.Error("init pipeline failed", slog.String("error", err.Error()))
		return 1
	}

	progress := store.NewProgressStore(kvStore, cfg.App.SaveInterval, appLogger)
	bg := startServers(ctx, cfg, kvStore, progress, latest, appLogger)

	err = pipeline.Every(ctx, cfg.App.RunInterval, appLogger, func(ctx context.Context) error {
		r, err := orch.Run(ctx)
		if err != nil {
			return err
		}
		appLogger.Info("run finished",
			slog.String("run_id", r.RunID),
			slog.Int("evaluated", len(r.Records)),
			slog.Int("profitable", len(r.Profitable())),
			slog.Int("errors", r.Errors.Total))
		return nil
	})

	stop()
	bg.shutdown(appLogger)

	switch {
	case err == nil:
		appLogger.Info("pipeline stopped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		appLogger.Info("pipeline interrupted, progress saved")
	default:
		appLogger.Error("pipeline aborted", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// openRedis 连接 Redis。未配置或不可达时返回 nil，依赖 Redis 的组件退化为本地实现。
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using local fallbacks",
			slog.String("addr", cfg.Addr),
			slog.String("error", err.Error()))
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// newLimiter 创建限流器：有 Redis 时跨进程共享令牌桶，Redis 故障时退化为本地令牌桶。
func newLimiter(rdb *redis.Client, logger *slog.Logger, name string, rate, burst float64) ratelimit.Limiter {
	b := int(burst)
	if b <= 0 {
		b = 1
	}
	local := ratelimit.NewLocalRateLimiter(rate, b)
	if rdb == nil {
		return local
	}
	shared := ratelimit.NewRedisRateLimiter(rdb, logger, "fbahunter:ratelimit:"+name, rate, burst)
	return ratelimit.NewFallbackLimiter(shared, local, logger)
}

func buildOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	kvStore kv.Store,
	rdb *redis.Client,
	session *browser.Session,
	latest *api.LatestReport,
	logger *slog.Logger,
) (*pipeline.Orchestrator, error) {
	selectorFiles := map[string]string{cfg.Supplier.Name: cfg.Supplier.SelectorFile}
	if cfg.Marketplace.SelectorFile != "" {
		selectorFiles[cfg.Marketplace.Domain] = cfg.Marketplace.SelectorFile
	}
	selectors := pipeline.NewFileSelectors(selectorFiles)
	supplierSel, err := selectors.Selectors(ctx, cfg.Supplier.Name)
	if err != nil {
		return nil, fmt.Errorf("supplier selectors: %w", err)
	}
	marketSel, err := selectors.Selectors(ctx, cfg.Marketplace.Domain)
	if err != nil {
		return nil, fmt.Errorf("marketplace selectors: %w", err)
	}

	supplierFetch := fetch.NewBrowserFetcher(session,
		newLimiter(rdb, logger, cfg.Supplier.Name, cfg.Supplier.RateLimit, cfg.Supplier.RateBurst), logger)
	authBreaker := breaker.New(breaker.Options{
		Name:      "auth:" + cfg.Supplier.Name,
		Threshold: 1,
		Cooldown:  cfg.Supplier.AuthCooldown,
		Redis:     rdb,
		Logger:    logger,
	})
	supplierFetcher := fetch.NewAuthGuard(
		fetch.WithRetry(supplierFetch, retry.Policy{
			MaxAttempts:    cfg.Matcher.MaxAttempts,
			InitialBackoff: cfg.Matcher.InitialBackoff,
			MaxBackoff:     cfg.Matcher.MaxBackoff,
		}, logger),
		supplierSel.LoginIndicator, cfg.Supplier.AuthMaxAttempts, authBreaker, logger)

	probeErrors := &pipeline.ProbeErrors{}
	w := walker.New(supplierFetcher, walker.Options{
		ProbeThreshold: cfg.Walker.ProbeThreshold,
		MaxPages:       cfg.Walker.MaxPages,
		PageParam:      cfg.Walker.PageParam,
		Concurrency:    min(cfg.Walker.Concurrency, cfg.Browser.MaxTabs),
		ProductLinks:   supplierSel.ProductLinks,
		NextPage:       supplierSel.NextPage,
		Logger:         logger,
		OnProbeError:   probeErrors.Record,
	})

	var ranker pipeline.CategoryRanker = pipeline.StaticRanker(cfg.Supplier.Categories)
	if cfg.Supplier.CategoryFile != "" {
		ranker = pipeline.FileRanker{Path: cfg.Supplier.CategoryFile}
	}

	products := store.NewSupplierCache(kvStore, cfg.Supplier.Name, logger)
	links := store.NewLinkingStore(kvStore, cfg.Supplier.Name, logger)
	listings := store.NewMarketplaceCache(kvStore, cfg.Matcher.ListingTTL, logger)
	progress := store.NewProgressStore(kvStore, cfg.App.SaveInterval, logger)

	marketFetch := fetch.NewBrowserFetcher(session,
		newLimiter(rdb, logger, cfg.Marketplace.Domain, cfg.Marketplace.RateLimit, cfg.Marketplace.RateBurst), logger)
	matcher := marketplace.NewMatcher(
		marketplace.NewBrowserSearcher(marketFetch, cfg.Marketplace, marketSel),
		listings, links, marketplace.OptionsFromConfig(cfg.Matcher, logger))

	analyzer := profit.NewAnalyzer(profit.FeeModelFromConfig(cfg.Fees), profit.LimitsFromConfig(cfg.Limits))

	sink, err := buildSinks(cfg, rdb, latest, logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Deps{
		Supplier:  cfg.Supplier.Name,
		Progress:  progress,
		Products:  products,
		Links:     links,
		Listings:  listings,
		Fetcher:   supplierFetcher,
		Walker:    w,
		Ranker:    ranker,
		Selectors: supplierSel.Product,
		Matcher:   matcher,
		Analyzer:  analyzer,
		Sink:      sink,
		WarmUp: func(ctx context.Context) error {
			tab, err := session.Acquire(ctx, cfg.Supplier.Name)
			if err != nil {
				return err
			}
			session.Release(tab)
			return nil
		},
		ProbeErrors: probeErrors,
		Logger:      logger,
	}, pipeline.Options{
		BatchSize:    cfg.App.BatchSize,
		CacheMaxAge:  cfg.App.SupplierCacheMaxAge,
		ForceRefresh: cfg.App.ForceRefresh,
	}), nil
}

// buildSinks 按配置组装报表输出。状态接口的最近报表始终挂载。
func buildSinks(cfg *config.Config, rdb *redis.Client, latest *api.LatestReport, logger *slog.Logger) (report.Sink, error) {
	sinks := []report.Sink{latest}
	if cfg.Report.CSVPath != "" {
		sinks = append(sinks, report.NewCSVSink(cfg.Report.CSVPath))
	}
	if cfg.Report.MySQLDSN != "" {
		gs, err := report.OpenMySQL(cfg.Report.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open report database: %w", err)
		}
		sinks = append(sinks, gs)
	}
	if cfg.Report.EmailTo != "" {
		var deduper dedup.Deduper = dedup.NewMemoryDeduplicator()
		if rdb != nil {
			deduper = dedup.NewRedisDeduplicator(rdb, "deal:"+cfg.Supplier.Name, notifyDedupTTL)
		}
		sinks = append(sinks, report.NewEmailSink(cfg.Email, cfg.Report.EmailTo, deduper, logger))
	}
	return report.NewMultiSink(logger, sinks...), nil
}

type servers struct {
	metrics *http.Server
	done    chan struct{}
}

// startServers 启动 metrics 与状态接口。状态接口本身也暴露 /metrics，
// 两者地址相同时只启动状态接口。
func startServers(ctx context.Context, cfg *config.Config, kvStore kv.Store, progress *store.ProgressStore, latest *api.LatestReport, logger *slog.Logger) *servers {
	s := &servers{done: make(chan struct{})}

	if cfg.App.MetricsAddr != "" && cfg.App.MetricsAddr != cfg.API.Addr {
		s.metrics = &http.Server{
			Addr:              cfg.App.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server started", slog.String("addr", cfg.App.MetricsAddr))
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped with error", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.API.Addr == "" {
		close(s.done)
		return s
	}
	srv := api.NewServer(kvStore, progress, latest, logger)
	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("PANIC in api server", slog.Any("panic", r))
			}
		}()
		if err := srv.Run(ctx, cfg.API.Addr); err != nil {
			logger.Error("api server stopped with error", slog.String("error", err.Error()))
		}
	}()
	return s
}

func (s *servers) shutdown(logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	select {
	case <-s.done:
	case <-shutdownCtx.Done():
		logger.Warn("api server did not stop in time")
	}
}
