package memory

import (
	"context"
	"sync"
	"time"

	"github.com/adeilh/rakh-sync/cache"
)

type item struct {
	value    []byte
	expireAt time.Time // zero => no TTL
}

// Store implements cache.Store in process memory. Expired items are dropped
// lazily on access and by Sweep.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

var _ cache.Store = (*Store)(nil)

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{items: make(map[string]item), now: time.Now}
}

// WithClock overrides the time source (useful for TTL tests).
func (s *Store) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	if !it.expireAt.IsZero() && !s.now().Before(it.expireAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expireAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return cache.ErrNotFound
	}
	delete(s.items, key)
	return nil
}

// Sweep removes expired items and returns how many were dropped.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, it := range s.items {
		if !it.expireAt.IsZero() && !now.Before(it.expireAt) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored items, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
