package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test", cfg), mr
}

func TestAllowEnforcesLimitPerWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("hit %d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("other key must have its own window: %v", err)
	}

	if ttl := mr.TTL("test:rl:10.0.0.1"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}
	mr.FastForward(time.Minute)
	if err := l.Allow(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("window must reset: %v", err)
	}
}

func TestRemainingAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	left, err := l.Remaining(ctx, "k")
	if err != nil || left != 3 {
		t.Fatalf("expected 3 left, got %d (%v)", left, err)
	}
	_ = l.Allow(ctx, "k")
	left, _ = l.Remaining(ctx, "k")
	if left != 2 {
		t.Fatalf("expected 2 left, got %d", left)
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	left, _ = l.Remaining(ctx, "k")
	if left != 3 {
		t.Fatalf("expected 3 left after reset, got %d", left)
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	for i := 0; i < 10; i++ {
		if err := l.Allow(context.Background(), "k"); err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	if mr.Exists("test:rl:k") {
		t.Fatal("disabled limiter must not touch redis")
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{Limit: 1})
	mr.Close()
	if err := l.Allow(context.Background(), "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
