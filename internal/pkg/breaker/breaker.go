package breaker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"fbahunter/internal/model"
	"fbahunter/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	redisOpTimeout = 3 * time.Second
	stateCacheTTL  = 5 * time.Second
)

// Options 配置熔断器。
type Options struct {
	Name      string        // metrics 标签与 Redis 键后缀
	Threshold int           // 连续失败多少次后打开
	Cooldown  time.Duration // 打开状态持续时间
	Redis     *redis.Client // 可选；设置后打开状态会同步到 Redis，供其他进程读取
	Logger    *slog.Logger
}

// Breaker 是连续失败计数熔断器。
//
// 打开后在 Cooldown 内所有 Allow 返回 model.ErrCircuitOpen；冷却结束后进入半开，
// 下一次 Success 关闭熔断，下一次 Failure 重新打开。
type Breaker struct {
	opts Options
	key  string
	now  func() time.Time

	mu          sync.Mutex
	failures    int
	openUntil   time.Time
	remoteOpen  bool
	remoteUntil time.Time
}

// New 创建熔断器。Threshold 非正时为 3，Cooldown 非正时为 5 分钟。
func New(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Breaker{
		opts: opts,
		key:  "fbahunter:breaker:" + opts.Name,
		now:  time.Now,
	}
}

// Allow 判断当前是否允许发起请求。
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	now := b.now()
	if now.Before(b.openUntil) {
		b.mu.Unlock()
		return model.ErrCircuitOpen
	}
	b.mu.Unlock()

	if b.remoteIsOpen(ctx, now) {
		return model.ErrCircuitOpen
	}
	return nil
}

// Success 记录一次成功并关闭熔断。
func (b *Breaker) Success(_ context.Context) {
	b.mu.Lock()
	wasOpen := !b.openUntil.IsZero()
	b.failures = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
	if !wasOpen {
		return
	}
	metrics.BreakerState.WithLabelValues(b.opts.Name).Set(0)
	b.opts.Logger.Info("circuit breaker closed", slog.String("breaker", b.opts.Name))
	if b.opts.Redis != nil {
		redisCtx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		_ = b.opts.Redis.Del(redisCtx, b.key).Err()
	}
	b.mu.Lock()
	b.remoteOpen = false
	b.remoteUntil = time.Time{}
	b.mu.Unlock()
}

// Failure 记录一次失败，返回本次是否导致熔断打开。
func (b *Breaker) Failure(ctx context.Context) bool {
	b.mu.Lock()
	b.failures++
	if b.failures < b.opts.Threshold {
		b.mu.Unlock()
		return false
	}
	b.failures = 0
	b.openUntil = b.now().Add(b.opts.Cooldown)
	b.mu.Unlock()

	metrics.BreakerState.WithLabelValues(b.opts.Name).Set(1)
	b.opts.Logger.Warn("circuit breaker opened",
		slog.String("breaker", b.opts.Name),
		slog.Duration("cooldown", b.opts.Cooldown))
	b.publish(ctx)
	return true
}

// Open 判断熔断器当前是否处于打开状态（仅本地）。
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// publish 将打开状态写入 Redis。Redis 不可用时只保留本地状态。
func (b *Breaker) publish(_ context.Context) {
	if b.opts.Redis == nil {
		return
	}
	redisCtx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := b.opts.Redis.Set(redisCtx, b.key, "1", b.opts.Cooldown).Err(); err != nil {
		b.opts.Logger.Warn("publish breaker state failed, keeping local state only",
			slog.String("breaker", b.opts.Name),
			slog.String("error", err.Error()))
		metrics.ObserveError("redis_degraded")
	}
}

func (b *Breaker) remoteIsOpen(_ context.Context, now time.Time) bool {
	if b.opts.Redis == nil {
		return false
	}
	b.mu.Lock()
	if now.Before(b.remoteUntil) {
		state := b.remoteOpen
		b.mu.Unlock()
		return state
	}
	b.mu.Unlock()

	redisCtx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	exists, err := b.opts.Redis.Exists(redisCtx, b.key).Result()
	if err != nil {
		b.mu.Lock()
		state := b.remoteOpen
		b.mu.Unlock()
		b.opts.Logger.Warn("read breaker state from redis failed, using cached value",
			slog.String("breaker", b.opts.Name),
			slog.Bool("cached_state", state),
			slog.String("error", err.Error()))
		return state
	}

	b.mu.Lock()
	b.remoteOpen = exists > 0
	b.remoteUntil = now.Add(stateCacheTTL)
	state := b.remoteOpen
	b.mu.Unlock()
	return state
}
