package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthCore/session"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig controls automatic lockout after repeated failed sign-ins.
type LockoutConfig struct {
	Enabled bool
	// Threshold is the number of consecutive failures that locks the account.
	Threshold int
	// Window is how long failures are remembered. 0 means until a successful
	// sign-in or a password reset.
	Window time.Duration
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutCounter tracks failed sign-ins per user.
type LockoutCounter interface {
	Failures(ctx context.Context, userID string) (int, error)
	// RecordFailure increments the counter and returns the new count.
	RecordFailure(ctx context.Context, userID string) (int, error)
	Reset(ctx context.Context, userID string) error
}

/* ==== IN-PROCESS COUNTER ==== */

type failureWindow struct {
	count int
	first time.Time
}

// MemoryCounter is a LockoutCounter kept in process memory.
type MemoryCounter struct {
	clock  session.Clock
	window time.Duration

	mu     sync.Mutex
	counts map[string]failureWindow
}

// NewMemoryCounter returns a counter whose entries expire window after the first
// failure. A zero window never expires.
func NewMemoryCounter(clock session.Clock, window time.Duration) *MemoryCounter {
	if clock == nil {
		clock = session.SystemClock()
	}
	return &MemoryCounter{clock: clock, window: window, counts: make(map[string]failureWindow)}
}

func (c *MemoryCounter) Failures(_ context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(userID).count, nil
}

func (c *MemoryCounter) RecordFailure(_ context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.liveLocked(userID)
	if w.count == 0 {
		w.first = c.clock.Now()
	}
	w.count++
	c.counts[userID] = w
	return w.count, nil
}

func (c *MemoryCounter) Reset(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	return nil
}

func (c *MemoryCounter) liveLocked(userID string) failureWindow {
	w, ok := c.counts[userID]
	if !ok {
		return failureWindow{}
	}
	if c.window > 0 && c.clock.Now().Sub(w.first) >= c.window {
		delete(c.counts, userID)
		return failureWindow{}
	}
	return w
}

/* ==== REDIS COUNTER ==== */

// RedisCounter is a LockoutCounter shared through Redis, so several provider
// instances see the same failure counts.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
}

// NewRedisCounter returns a Redis-backed counter. Keys are {prefix}:alo:{userID}.
func NewRedisCounter(client redis.UniversalClient, prefix string, window time.Duration) *RedisCounter {
	if prefix == "" {
		prefix = "gac"
	}
	return &RedisCounter{redis: client, prefix: prefix, window: window}
}

func (c *RedisCounter) key(userID string) string {
	return c.prefix + ":alo:" + userID
}

func (c *RedisCounter) Failures(ctx context.Context, userID string) (int, error) {
	count, err := c.redis.Get(ctx, c.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}

func (c *RedisCounter) RecordFailure(ctx context.Context, userID string) (int, error) {
	count, err := c.redis.Incr(ctx, c.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && c.window > 0 {
		// TTL is set on the first failure so the window starts there.
		if err := c.redis.Expire(ctx, c.key(userID), c.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	return int(count), nil
}

func (c *RedisCounter) Reset(ctx context.Context, userID string) error {
	if err := c.redis.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
