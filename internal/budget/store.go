package budget

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CounterStore is the shared atomic counter primitive behind the ledger.
// All workers across all processes must see the same counters, so the
// production implementation lives in Redis.
type CounterStore interface {
	// IncrWithTTL atomically increments key and returns the new value. The
	// TTL is attached on first increment only.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// DecrFloor decrements key but never below zero.
	DecrFloor(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error)
}

type redisCounterStore struct {
	rdb *goredis.Client
}

func NewRedisCounterStore(rdb *goredis.Client) CounterStore {
	return &redisCounterStore{rdb: rdb}
}

var decrFloorScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v or tonumber(v) <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`)

func (s *redisCounterStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *redisCounterStore) DecrFloor(ctx context.Context, key string) error {
	return decrFloorScript.Run(ctx, s.rdb, []string{key}).Err()
}

func (s *redisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

// MemoryCounterStore keeps counters in process memory. Single-worker runs
// and tests only; it cannot provide cross-process consistency.
type MemoryCounterStore struct {
	mu      sync.Mutex
	vals    map[string]int64
	expiry  map[string]time.Time
	FailAll bool // when set, every call errors (exercises fail-open)
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{vals: map[string]int64{}, expiry: map[string]time.Time{}}
}

func (s *MemoryCounterStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return 0, errStoreDown
	}
	s.expireLocked(key)
	if _, ok := s.vals[key]; !ok {
		s.expiry[key] = time.Now().Add(ttl)
	}
	s.vals[key]++
	return s.vals[key], nil
}

func (s *MemoryCounterStore) DecrFloor(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return errStoreDown
	}
	s.expireLocked(key)
	if s.vals[key] > 0 {
		s.vals[key]--
	}
	return nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		return 0, errStoreDown
	}
	s.expireLocked(key)
	return s.vals[key], nil
}

func (s *MemoryCounterStore) expireLocked(key string) {
	if exp, ok := s.expiry[key]; ok && time.Now().After(exp) {
		delete(s.vals, key)
		delete(s.expiry, key)
	}
}

type storeDownError struct{}

func (storeDownError) Error() string { return "counter store unavailable" }

var errStoreDown = storeDownError{}
