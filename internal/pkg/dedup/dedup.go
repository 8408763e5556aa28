package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fbahunter:dedup:"

// Deduper 判断一个键在当前窗口内是否已经出现过。
//
// IsDuplicate 第一次见到某个键时返回 false 并记住它，之后返回 true。
type Deduper interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisDeduplicator 通过 SETNX 在多个进程之间共享去重窗口。
type RedisDeduplicator struct {
	rdb   *redis.Client
	scope string
	ttl   time.Duration
}

// NewRedisDeduplicator 创建基于 Redis 的去重器。
//
// 参数:
//
//	rdb: Redis 客户端
//	scope: 键空间（通常是供应商域名），不同 scope 互不影响
//	ttl: 去重窗口，非正时为 1 小时
func NewRedisDeduplicator(rdb *redis.Client, scope string, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisDeduplicator{rdb: rdb, scope: scope, ttl: ttl}
}

func (d *RedisDeduplicator) IsDuplicate(ctx context.Context, key string) (bool, error) {
	if d == nil || d.rdb == nil || key == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.redisKey(key), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

func (d *RedisDeduplicator) Delete(ctx context.Context, key string) error {
	if d == nil || d.rdb == nil || key == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, d.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func (d *RedisDeduplicator) redisKey(key string) string {
	return keyPrefix + d.scope + ":" + hashKey(key)
}

// MemoryDeduplicator 是进程内去重器，生命周期与一次运行相同。
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

func (d *MemoryDeduplicator) IsDuplicate(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true, nil
	}
	d.seen[key] = struct{}{}
	return false, nil
}

func (d *MemoryDeduplicator) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}

// Len 返回已记录的键数量。
func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
