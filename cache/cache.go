package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a simple TTL-based cache abstraction that can be backed
// by memory, Redis, or any other KV store. The query layer persists
// snapshots through it and the API server caches rendered responses in it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// BatchDeleter is implemented by stores that can remove several keys in one
// round trip.
type BatchDeleter interface {
	DeleteMany(ctx context.Context, keys ...string) error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeleteMany removes keys from store, batching when the store supports it.
// Missing keys are ignored.
func DeleteMany(ctx context.Context, store Store, keys ...string) error {
	if bd, ok := store.(BatchDeleter); ok {
		return bd.DeleteMany(ctx, keys...)
	}
	var errs []error
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks store health. Stores without a remote backend are always
// healthy.
func Ping(ctx context.Context, store Store) error {
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return ctx.Err()
}
