package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache"
)

const persistTimeout = 2 * time.Second

func persistKey(k Key) string { return "query:" + k.String() }

// hydrate seeds a new entry from the persister. Restored data is raw JSON
// and always stale, so the first read serves it while refetching.
func (s *Store) hydrate(ctx context.Context, e *entry) {
	if s.opts.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	raw, err := s.opts.persister.Get(ctx, persistKey(e.key))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("hydrate failed", zap.Stringer("key", e.key), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e.hasValue {
		return
	}
	now := s.opts.now()
	e.value = json.RawMessage(raw)
	e.hasValue = true
	e.status = StatusSuccess
	e.invalidated = true
	e.staleAt = now
	s.notifyLocked(e, e.snapshot(now))
}

func (s *Store) persist(key Key, value any) {
	if s.opts.persister == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("persist encode failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.opts.persister.Set(ctx, persistKey(key), raw, s.opts.persistTTL); err != nil {
		s.logger.Warn("persist failed", zap.Stringer("key", key), zap.Error(err))
	}
}

func (s *Store) unpersist(key Key) {
	if s.opts.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.opts.persister.Delete(ctx, persistKey(key)); err != nil && !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("persist delete failed", zap.Stringer("key", key), zap.Error(err))
	}
}
