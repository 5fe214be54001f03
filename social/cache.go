package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache"
)

// responseCache stores rendered feed and suggestion lists in a cache.Store.
// Every failure is logged and treated as a miss.
type responseCache struct {
	store  cache.Store
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func newResponseCache(store cache.Store, prefix string, ttl time.Duration, logger *zap.Logger) *responseCache {
	if store == nil {
		return nil
	}
	if prefix == "" {
		prefix = "social"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &responseCache{store: store, prefix: prefix, ttl: ttl, logger: logger}
}

// Suggestion lists live under the current user epoch. Creating a user moves
// the epoch, which retires every cached list at once.
const epochKey = "users:epoch"

func (c *responseCache) key(ctx context.Context, kind, userID string) string {
	if kind == kindSuggested {
		if epoch := c.epoch(ctx); epoch != "" {
			return fmt.Sprintf("%s:%s:%s:%s", c.prefix, kind, epoch, userID)
		}
	}
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, userID)
}

func (c *responseCache) epoch(ctx context.Context) string {
	raw, err := c.store.Get(ctx, c.prefix+":"+epochKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("response cache epoch read failed", zap.Error(err))
		}
		return ""
	}
	return string(raw)
}

// bumpEpoch retires cached suggestion lists. The epoch key carries the
// response TTL like the lists themselves.
func (c *responseCache) bumpEpoch(ctx context.Context, epoch string) {
	if c == nil {
		return
	}
	if err := c.store.Set(ctx, c.prefix+":"+epochKey, []byte(epoch), c.ttl); err != nil {
		c.logger.Warn("response cache epoch write failed", zap.Error(err))
	}
}

func (c *responseCache) get(ctx context.Context, kind, userID string, out any) bool {
	if c == nil {
		return false
	}
	raw, err := c.store.Get(ctx, c.key(ctx, kind, userID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("response cache read failed", zap.String("kind", kind), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("response cache decode failed", zap.String("kind", kind), zap.Error(err))
		return false
	}
	return true
}

func (c *responseCache) set(ctx context.Context, kind, userID string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.key(ctx, kind, userID), raw, c.ttl); err != nil {
		c.logger.Warn("response cache write failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (c *responseCache) drop(ctx context.Context, userID string, kinds ...string) {
	if c == nil || len(kinds) == 0 {
		return
	}
	keys := make([]string, len(kinds))
	for i, kind := range kinds {
		keys[i] = c.key(ctx, kind, userID)
	}
	if err := cache.DeleteMany(ctx, c.store, keys...); err != nil {
		c.logger.Warn("response cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
