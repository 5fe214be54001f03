// Package redis is a cache.Store over the Redis wire protocol. It carries
// query snapshots for clients and response caches for the API server.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adeilh/rakh-sync/cache"
)

// Store namespaces every key with Options.Prefix, so several stores can
// share one server.
type Store struct {
	opts Options
	pool *pool
}

var (
	_ cache.Store        = (*Store)(nil)
	_ cache.BatchDeleter = (*Store)(nil)
	_ cache.Pinger       = (*Store)(nil)
)

func NewStore(opts Options) *Store {
	cfg := opts.withDefaults()
	return &Store{opts: cfg, pool: newPool(cfg)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.do(ctx, "GET", s.key(key))
	if err != nil {
		return nil, err
	}
	switch b := v.(type) {
	case nil:
		return nil, cache.ErrNotFound
	case []byte:
		return b, nil
	default:
		return nil, fmt.Errorf("redis: GET: unexpected reply %T", v)
	}
}

// Set stores value with a millisecond TTL. A TTL of zero or less keeps the
// key until deleted.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", s.key(key), string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(max(ttl.Milliseconds(), 1), 10))
	}
	v, err := s.do(ctx, args...)
	if err != nil {
		return err
	}
	if !isOK(v, "OK") {
		return fmt.Errorf("redis: SET: unexpected reply %v", v)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	v, err := s.do(ctx, "DEL", s.key(key))
	if err != nil {
		return err
	}
	n, ok := v.(int64)
	if !ok {
		return fmt.Errorf("redis: DEL: unexpected reply %v", v)
	}
	if n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// DeleteMany removes keys in a single DEL. Missing keys are not an error.
func (s *Store) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, k := range keys {
		args = append(args, s.key(k))
	}
	_, err := s.do(ctx, args...)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	v, err := s.do(ctx, "PING")
	if err != nil {
		return err
	}
	if !isOK(v, "PONG") {
		return fmt.Errorf("redis: PING: unexpected reply %v", v)
	}
	return nil
}

// Close drops idle connections. The store dials again on the next call.
func (s *Store) Close() error {
	s.pool.drain()
	return nil
}

// Pipeline batches raw commands into one round trip. Keys are sent as given,
// without the store prefix.
func (s *Store) Pipeline() *Pipeline {
	return &Pipeline{store: s}
}

type Pipeline struct {
	store *Store
	cmds  [][]string
}

func (p *Pipeline) Queue(args ...string) {
	p.cmds = append(p.cmds, append([]string(nil), args...))
}

// Exec sends the queued commands and returns one reply per command. Error
// replies appear as ServerError values. The queue is reset either way.
func (p *Pipeline) Exec(ctx context.Context) ([]any, error) {
	cmds := p.cmds
	p.cmds = nil
	if len(cmds) == 0 {
		return nil, nil
	}
	return p.store.roundTrip(ctx, cmds...)
}

func (s *Store) do(ctx context.Context, args ...string) (any, error) {
	replies, err := s.roundTrip(ctx, args)
	if err != nil {
		return nil, err
	}
	if se, ok := replies[0].(ServerError); ok {
		return nil, se
	}
	return replies[0], nil
}

func (s *Store) roundTrip(ctx context.Context, cmds ...[]string) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.pool.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis: connect %s: %w", s.opts.Addr, err)
	}
	replies, err := c.roundTrip(ctx, s.opts, cmds...)
	s.pool.put(c, err)
	if err != nil {
		return nil, fmt.Errorf("redis: %s: %w", cmds[0][0], err)
	}
	return replies, nil
}

func (s *Store) key(k string) string {
	return s.opts.Prefix + k
}
