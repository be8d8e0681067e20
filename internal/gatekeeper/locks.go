package gatekeeper

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

/*
LockStore serializes promotion of one canonical name per tenant so two
concurrent runs cannot both create the concept. Acquire returns false
(not an error) when the lock is held; the TTL guarantees a crashed
holder cannot wedge the name forever.
*/
type LockStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisLockStore struct {
	rdb *goredis.Client
}

func NewRedisLockStore(rdb *goredis.Client) LockStore {
	return &redisLockStore{rdb: rdb}
}

func (s *redisLockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (s *redisLockStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// MemoryLockStore is the in-process LockStore used in tests and in runs
// without Redis.
type MemoryLockStore struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (s *MemoryLockStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if exp, ok := s.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.held[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryLockStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
	return nil
}
