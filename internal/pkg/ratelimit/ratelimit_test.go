package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisRateLimiter_AcquireConsumesToken(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:marketplace", 10, 2)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	raw, err := rdb.HGet(context.Background(), limiter.key, "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected one token consumed, got %.2f left", tokens)
	}
}

func TestRedisRateLimiter_WaitsForRefill(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:refill", 10, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected to wait for refill, elapsed=%v", elapsed)
	}
}

func TestRedisRateLimiter_ContextTimeout(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:timeout", 1, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRedisRateLimiter_SharedBudgetUnderConcurrency(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:concurrent", 5, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected exactly burst=5 successes, got %d", success)
	}
}

func TestLocalRateLimiter_Unlimited(t *testing.T) {
	l := NewLocalRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
}

func TestLocalRateLimiter_ContextTimeout(t *testing.T) {
	l := NewLocalRateLimiter(1, 1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

type failingLimiter struct{ calls int }

func (f *failingLimiter) Acquire(context.Context) error {
	f.calls++
	return errors.New("ratelimit eval: connection refused")
}

type countingLimiter struct{ calls int }

func (c *countingLimiter) Acquire(context.Context) error {
	c.calls++
	return nil
}

func TestFallbackLimiter_DegradesOnRedisError(t *testing.T) {
	primary := &failingLimiter{}
	local := &countingLimiter{}
	f := NewFallbackLimiter(primary, local, nil)

	if err := f.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if primary.calls != 1 || local.calls != 1 {
		t.Fatalf("expected primary then local, got primary=%d local=%d", primary.calls, local.calls)
	}
}

func TestFallbackLimiter_TimeoutIsNotDegraded(t *testing.T) {
	rdb := newMiniRedis(t)
	primary := NewRedisRateLimiter(rdb, nil, "test:ratelimit:fallback", 1, 1)
	local := &countingLimiter{}
	f := NewFallbackLimiter(primary, local, nil)

	if err := f.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
	if local.calls != 0 {
		t.Fatalf("local limiter must not be used on timeout")
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
