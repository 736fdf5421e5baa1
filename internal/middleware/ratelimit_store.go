package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/classline/classline/internal/cache"
)

// RateStore tracks request counts per key within a rolling window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// memoryRateStore is a process-local RateStore. Expired windows are pruned
// opportunistically during increments, so it needs no background goroutine.
type memoryRateStore struct {
	mu       sync.Mutex
	counters map[string]windowCounter
	ops      int
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{counters: make(map[string]windowCounter)}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops%256 == 0 {
		s.pruneLocked(now)
	}

	counter := s.counters[key]
	if counter.resetAt.IsZero() || now.After(counter.resetAt) {
		counter = windowCounter{resetAt: now.Add(window)}
	}
	counter.count++
	s.counters[key] = counter

	return counter.count, counter.resetAt.Sub(now), nil
}

func (s *memoryRateStore) pruneLocked(now time.Time) {
	for key, counter := range s.counters {
		if now.After(counter.resetAt) {
			delete(s.counters, key)
		}
	}
}

// cacheRateStore shares counters through a cache.Store so limits hold across
// instances pointed at the same backend.
type cacheRateStore struct {
	store cache.Store
}

// NewCacheRateStore wraps a cache store in a RateStore. A nil store yields nil.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &cacheRateStore{store: store}
}

func (s *cacheRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
