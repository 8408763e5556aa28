package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"fbahunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// Limiter 在发起一次对外请求前获取令牌。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// 令牌桶脚本：KEYS[1]=桶键, ARGV=rate(token/s), burst, now(ms), requested。
// 返回 {allowed, wait_ms, tokens}。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = tokens >= requested
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed and 1 or 0, wait_ms, tokens}
`

// RedisRateLimiter 是跨进程共享的令牌桶，同一 key 的所有实例共用配额。
type RedisRateLimiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// NewRedisRateLimiter 创建基于 Redis 的令牌桶限流器。
//
// 参数:
//
//	rdb: Redis 客户端
//	logger: 日志记录器（可为 nil）
//	key: 桶键，为空时使用 fbahunter:ratelimit:default
//	rate: 每秒补充的令牌数
//	burst: 桶容量
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate float64, burst float64) *RedisRateLimiter {
	if key == "" {
		key = "fbahunter:ratelimit:default"
	}
	return &RedisRateLimiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Acquire 阻塞直到拿到令牌或 ctx 结束（返回 ErrRateLimitTimeout）。
func (r *RedisRateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	for {
		allowed, waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += time.Duration(rand.Int63n(int64(jitterMax)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *RedisRateLimiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		if ctx.Err() != nil {
			metrics.RateLimitTimeoutTotal.Inc()
			return false, 0, ErrRateLimitTimeout
		}
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// LocalRateLimiter 是进程内令牌桶，在没有 Redis 时使用。
type LocalRateLimiter struct {
	limiter *rate.Limiter
}

// NewLocalRateLimiter 创建进程内限流器。rate 或 burst 非正时不限流。
func NewLocalRateLimiter(r float64, burst int) *LocalRateLimiter {
	if r <= 0 || burst <= 0 {
		return &LocalRateLimiter{}
	}
	return &LocalRateLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Acquire 等待一个令牌。
func (l *LocalRateLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	start := time.Now()
	err := l.limiter.Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RateLimitTimeoutTotal.Inc()
		return fmt.Errorf("%w: %v", ErrRateLimitTimeout, err)
	}
	return nil
}

// FallbackLimiter 优先使用共享限流器，Redis 故障时降级到本地限流器。
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   *slog.Logger
}

// NewFallbackLimiter 组合共享限流与本地限流。
func NewFallbackLimiter(primary, fallback Limiter, logger *slog.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackLimiter) Acquire(ctx context.Context) error {
	if f.primary == nil {
		return f.fallback.Acquire(ctx)
	}
	err := f.primary.Acquire(ctx)
	if err == nil || errors.Is(err, ErrRateLimitTimeout) || f.fallback == nil {
		return err
	}
	if f.logger != nil {
		f.logger.Warn("shared rate limiter degraded, using local limiter",
			slog.String("error", err.Error()))
	}
	return f.fallback.Acquire(ctx)
}
