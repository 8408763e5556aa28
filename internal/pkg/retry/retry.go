package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy 描述指数退避重试策略。
type Policy struct {
	MaxAttempts    int           // 总尝试次数（含第一次），<=0 视为 1
	InitialBackoff time.Duration // 第一次重试前的等待
	MaxBackoff     time.Duration // 单次等待上限，0 表示不设上限
}

// Backoff 返回第 attempt 次失败后（从 0 开始）应等待的时长。
func (p Policy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(2, float64(attempt)))
	if p.MaxBackoff > 0 && (d > p.MaxBackoff || d <= 0) {
		d = p.MaxBackoff
	}
	return d
}

// Do 按策略执行 fn，直到成功、遇到不可重试的错误、次数耗尽或 ctx 结束。
//
// retryable 为 nil 时所有错误都重试。次数耗尽时返回最后一次错误（已包装）。
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
