package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"fbahunter/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts Options) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(opts)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(Options{Name: "auth", Threshold: 2, Cooldown: time.Minute})

	if b.Failure(ctx) {
		t.Fatalf("first failure must not open")
	}
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("expected allow below threshold, got %v", err)
	}
	if !b.Failure(ctx) {
		t.Fatalf("second failure must open")
	}
	if err := b.Allow(ctx); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	clock.Advance(time.Minute + time.Second)
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("expected half-open after cooldown, got %v", err)
	}
	b.Success(ctx)
	if b.Open() {
		t.Fatalf("success must close breaker")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(Options{Threshold: 2, Cooldown: time.Minute})

	b.Failure(ctx)
	b.Success(ctx)
	if b.Failure(ctx) {
		t.Fatalf("failures must be consecutive to open")
	}
}

func TestBreaker_StateSharedThroughRedis(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	a, _ := newTestBreaker(Options{Name: "auth:shop.example", Threshold: 1, Cooldown: time.Minute, Redis: rdb})
	other, _ := newTestBreaker(Options{Name: "auth:shop.example", Threshold: 1, Cooldown: time.Minute, Redis: rdb})

	a.Failure(ctx)
	if !s.Exists("fbahunter:breaker:auth:shop.example") {
		t.Fatalf("expected breaker key in redis")
	}
	if err := other.Allow(ctx); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected peer to observe open breaker, got %v", err)
	}
}

func TestBreaker_RedisDownKeepsLocalState(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()
	s.Close()

	ctx := context.Background()
	b, _ := newTestBreaker(Options{Threshold: 1, Cooldown: time.Minute, Redis: rdb})
	if err := b.Allow(ctx); err != nil {
		t.Fatalf("redis outage must not block requests, got %v", err)
	}
	b.Failure(ctx)
	if err := b.Allow(ctx); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("expected local open state, got %v", err)
	}
}
