package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by [Store.Load] when no session is persisted.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps Redis transport failures from [RedisStore].
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store persists the live session across restarts. Implementations are bound to a
// single client, so they never need a session identifier.
type Store interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Load(ctx context.Context) (Session, error)
	Delete(ctx context.Context) error
}

// RedisStore persists the session under {prefix}:session:{clientID} using the
// binary codec, expiring with the session itself.
type RedisStore struct {
	redis    redis.UniversalClient
	prefix   string
	clientID string
}

// NewRedisStore creates a [RedisStore]. prefix sets the key namespace and clientID
// distinguishes clients sharing one Redis.
func NewRedisStore(rdb redis.UniversalClient, prefix, clientID string) *RedisStore {
	return &RedisStore{
		redis:    rdb,
		prefix:   prefix,
		clientID: clientID,
	}
}

func (s *RedisStore) key() string {
	return s.prefix + ":session:" + s.clientID
}

// Save writes the encoded session with the given TTL. A non-positive TTL deletes
// any persisted copy instead, since the session is already dead.
func (s *RedisStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx)
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(), data, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load reads and decodes the persisted session.
func (s *RedisStore) Load(ctx context.Context) (Session, error) {
	data, err := s.redis.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// Delete removes the persisted session. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// MemoryStore keeps the session in process memory. It is the default Store.
type MemoryStore struct {
	mu      sync.Mutex
	sess    Session
	present bool
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		m.sess, m.present = Session{}, false
		return nil
	}
	m.sess, m.present = s, true
	return nil
}

func (m *MemoryStore) Load(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return Session{}, ErrNotFound
	}
	return m.sess, nil
}

func (m *MemoryStore) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess, m.present = Session{}, false
	return nil
}
