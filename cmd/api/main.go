package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fbahunter/internal/api"
	"fbahunter/internal/config"
	"fbahunter/internal/kv"
	"fbahunter/internal/pkg/logger"
	"fbahunter/internal/store"

	"github.com/redis/go-redis/v9"
)

// main 是独立状态接口的入口函数。
//
// 流水线进程自带状态接口；本命令用于流水线未运行时查看已落盘的进度与链接表。
// 独立运行时没有最近报表，/api/report 返回 404。
func main() {
	configPath := flag.String("config", "", "config file path (default configs/config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Store.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	kvStore, err := kv.Open(ctx, cfg.Store, rdb)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer kvStore.Close()

	addr := cfg.API.Addr
	if addr == "" {
		addr = ":8081"
	}
	srv := api.NewServer(kvStore, store.NewProgressStore(kvStore, cfg.App.SaveInterval, appLogger), nil, appLogger)
	if err := srv.Run(ctx, addr); err != nil {
		appLogger.Error("server run failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
	appLogger.Info("api server stopped")
}
