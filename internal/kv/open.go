package kv

import (
	"context"
	"fmt"

	"fbahunter/internal/config"

	"github.com/redis/go-redis/v9"
)

// Open 按配置创建存储后端。backend=redis 时 rdb 不能为空。
func Open(ctx context.Context, cfg config.StoreConfig, rdb *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("kv: redis backend requires a redis client")
		}
		return NewRedisStore(rdb, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}
