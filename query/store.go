package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrClosed    = errors.New("query: store closed")
	ErrNoFetcher = errors.New("query: no fetcher for key")
)

// Fetcher loads the value of one key from the backend.
type Fetcher func(ctx context.Context) (any, error)

// entry is owned by the Store and only mutated under Store.mu.
type entry struct {
	key         Key
	value       any
	hasValue    bool
	status      Status
	err         error
	fetchedAt   time.Time
	staleAt     time.Time
	lastAccess  time.Time
	invalidated bool
	fetching    bool
	gen         uint64
	updates     int
	failures    int

	fetcher   Fetcher
	staleTime time.Duration
	retry     int
	observers map[uint64]*Subscription
}

func (e *entry) snapshot(now time.Time) Snapshot {
	return Snapshot{
		Key:       e.key,
		Data:      e.value,
		HasData:   e.hasValue,
		Status:    e.status,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		StaleAt:   e.staleAt,
		Stale:     !e.hasValue || !now.Before(e.staleAt),
		Fetching:  e.fetching,
		Updates:   e.updates,
		Failures:  e.failures,
	}
}

// Store is an in-memory query cache. It holds at most one entry per key,
// runs at most one fetch per key at a time and evicts idle, unobserved
// entries after the GC window. Create one per application and Close it on
// shutdown.
type Store struct {
	opts    storeOptions
	logger  *zap.Logger
	metrics *instruments
	tracer  trace.Tracer

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	nextSub uint64

	group       singleflight.Group
	flights     sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	janitorDone chan struct{}
}

// NewStore builds a Store and starts its GC janitor.
func NewStore(opts ...Option) *Store {
	cfg := defaultStoreOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		opts:    cfg,
		logger:  cfg.logger.Named("query"),
		metrics: newInstruments(cfg.meterProvider, cfg.logger),
		tracer:  cfg.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion)),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.gcInterval > 0 && cfg.gcTime >= 0 {
		s.janitorDone = make(chan struct{})
		go s.janitor(cfg.gcInterval)
	}
	return s
}

// Read returns fresh cached data without fetching. Stale data is returned
// immediately while a background refetch runs. Without any data the call
// starts, or joins, the single in-flight fetch and waits for it. Cancelling
// ctx stops the wait, never the fetch.
func (s *Store) Read(ctx context.Context, key Key, fn Fetcher, opts ...ReadOption) Snapshot {
	return s.read(ctx, key, fn, false, opts...)
}

// Fetch is Read that also waits when only stale data is cached.
func (s *Store) Fetch(ctx context.Context, key Key, fn Fetcher, opts ...ReadOption) Snapshot {
	return s.read(ctx, key, fn, true, opts...)
}

func (s *Store) read(ctx context.Context, key Key, fn Fetcher, wait bool, opts ...ReadOption) Snapshot {
	ro := readOptions{staleTime: s.opts.staleTime, retry: s.opts.retry}
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}

	e, created, err := s.acquire(key, fn, ro)
	if err != nil {
		return Snapshot{Key: key, Status: StatusError, Err: err, Stale: true}
	}
	if created {
		s.hydrate(ctx, e)
	}

	s.mu.Lock()
	now := s.opts.now()
	e.lastAccess = now
	if e.hasValue && !e.invalidated {
		e.staleAt = e.fetchedAt.Add(ro.staleTime)
	}
	if e.hasValue && now.Before(e.staleAt) {
		snap := e.snapshot(now)
		s.mu.Unlock()
		s.metrics.hits.Add(ctx, 1, tagAttr(key))
		return snap
	}
	s.metrics.misses.Add(ctx, 1, tagAttr(key))
	if e.fetcher == nil {
		snap := e.snapshot(now)
		s.mu.Unlock()
		if !snap.HasData {
			snap.Err = ErrNoFetcher
		}
		return snap
	}
	snap := e.snapshot(now)
	s.mu.Unlock()

	ch := s.group.DoChan(key.String(), s.flight(ctx, e))
	if snap.HasData && !wait {
		snap.Fetching = true
		return snap
	}

	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		s.mu.Lock()
		snap = e.snapshot(s.opts.now())
		s.mu.Unlock()
		snap.Err = ctx.Err()
		return snap
	}
}

func (s *Store) acquire(key Key, fn Fetcher, ro readOptions) (*entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	e, created := s.entryLocked(key)
	if fn != nil {
		e.fetcher = fn
	}
	e.staleTime = ro.staleTime
	e.retry = ro.retry
	return e, created, nil
}

func (s *Store) entryLocked(key Key) (*entry, bool) {
	k := key.String()
	if e, ok := s.entries[k]; ok {
		return e, false
	}
	e := &entry{
		key:        key,
		status:     StatusIdle,
		lastAccess: s.opts.now(),
		staleTime:  s.opts.staleTime,
		retry:      s.opts.retry,
		observers:  make(map[uint64]*Subscription),
	}
	s.entries[k] = e
	return e, true
}

// flight wraps one fetch of e for singleflight. The fetch is detached from
// the caller's cancellation and only stops when the Store closes. An observed
// entry invalidated while the fetch ran is fetched again inside the same
// flight, so joiners get the post-invalidation result.
func (s *Store) flight(ctx context.Context, e *entry) func() (any, error) {
	base := context.WithoutCancel(ctx)
	return func() (any, error) {
		for {
			snap, again := s.runFetch(base, e)
			if !again {
				return snap, nil
			}
			s.logger.Debug("refetching entry invalidated mid-flight", zap.Stringer("key", e.key))
		}
	}
}

// runFetch fetches e once. It reports whether e needs another fetch because
// it was invalidated meanwhile and is still observed.
func (s *Store) runFetch(base context.Context, e *entry) (Snapshot, bool) {
	s.mu.Lock()
	if s.closed {
		snap := e.snapshot(s.opts.now())
		s.mu.Unlock()
		snap.Err = ErrClosed
		return snap, false
	}
	if s.entries[e.key.String()] != e {
		// Removed before the flight started.
		snap := e.snapshot(s.opts.now())
		s.mu.Unlock()
		return snap, false
	}
	s.flights.Add(1)
	defer s.flights.Done()

	fetch, retry, gen := e.fetcher, e.retry, e.gen
	e.fetching = true
	e.status = StatusLoading
	s.notifyLocked(e, e.snapshot(s.opts.now()))
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(base)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	ctx, span := s.tracer.Start(ctx, "query.fetch "+string(e.key.tag),
		trace.WithAttributes(attribute.String("query.key", e.key.String())))
	start := time.Now()
	value, attempts, err := s.attempt(ctx, e.key, fetch, retry)
	s.metrics.recordFetch(ctx, e.key, start, err)
	span.SetAttributes(attribute.Int("query.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	s.mu.Lock()
	now := s.opts.now()
	e.fetching = false
	if err == nil {
		e.value = value
		e.hasValue = true
		e.status = StatusSuccess
		e.err = nil
		e.fetchedAt = now
		e.updates++
		// An invalidation that landed mid-flight keeps the result stale.
		e.invalidated = e.gen != gen
		if e.invalidated {
			e.staleAt = now
		} else {
			e.staleAt = now.Add(e.staleTime)
		}
	} else {
		e.status = StatusError
		e.err = err
		e.failures++
	}
	snap := e.snapshot(now)
	s.notifyLocked(e, snap)
	live := s.entries[e.key.String()] == e
	again := live && err == nil && e.invalidated && len(e.observers) > 0 && e.fetcher != nil && !s.closed
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("fetch failed",
			zap.Stringer("key", e.key),
			zap.Int("attempts", attempts),
			zap.Bool("stale_data", snap.HasData),
			zap.Error(err),
		)
		return snap, false
	}
	s.logger.Debug("fetch settled", zap.Stringer("key", e.key), zap.Int("attempts", attempts), zap.Duration("duration", time.Since(start)))
	if live {
		s.persist(e.key, value)
	}
	return snap, again
}

func (s *Store) attempt(ctx context.Context, key Key, fetch Fetcher, retry int) (any, int, error) {
	attempts := 0
	for {
		attempts++
		s.metrics.fetches.Add(ctx, 1, tagAttr(key))
		value, err := fetch(ctx)
		if err == nil {
			return value, attempts, nil
		}
		if attempts > retry || ctx.Err() != nil || !s.opts.retryable(err) {
			return nil, attempts, err
		}

		delay := s.opts.retryDelay(attempts, err)
		s.metrics.retries.Add(ctx, 1, tagAttr(key))
		s.logger.Debug("retrying fetch", zap.Stringer("key", key), zap.Int("attempt", attempts), zap.Duration("delay", delay), zap.Error(err))
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, err
		}
	}
}

// Invalidate marks every matching entry stale without dropping its data.
// Observed entries are refetched in the background; the call never waits
// for those fetches. It returns the number of entries invalidated.
func (s *Store) Invalidate(pred Predicate) int {
	if pred == nil {
		return 0
	}

	s.mu.Lock()
	now := s.opts.now()
	var refetch []*entry
	n := 0
	for _, e := range s.entries {
		if !pred(e.key) {
			continue
		}
		n++
		e.invalidated = true
		e.gen++
		e.staleAt = now
		s.notifyLocked(e, e.snapshot(now))
		if len(e.observers) > 0 && e.fetcher != nil && !s.closed {
			refetch = append(refetch, e)
		}
	}
	s.mu.Unlock()

	if n == 0 {
		return 0
	}
	s.metrics.invalidations.Add(s.ctx, int64(n))
	for _, e := range refetch {
		s.group.DoChan(e.key.String(), s.flight(context.Background(), e))
	}
	s.logger.Debug("invalidated entries", zap.Int("count", n), zap.Int("refetching", len(refetch)))
	return n
}

// SetData writes value for key as if it had just been fetched.
func (s *Store) SetData(key Key, value any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e, _ := s.entryLocked(key)
	now := s.opts.now()
	e.value = value
	e.hasValue = true
	e.status = StatusSuccess
	e.err = nil
	e.fetchedAt = now
	e.staleAt = now.Add(e.staleTime)
	e.lastAccess = now
	e.invalidated = false
	e.gen++
	e.updates++
	s.notifyLocked(e, e.snapshot(now))
	s.mu.Unlock()

	s.persist(key, value)
	return nil
}

// Peek returns the current state of key without fetching or touching it.
func (s *Store) Peek(key Key) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(s.opts.now()), true
}

// Remove drops matching entries and their persisted copies. Subscriptions
// on removed entries are closed. A fetch still running for a removed entry
// settles into the dropped entry only; the next Read starts a new one.
func (s *Store) Remove(pred Predicate) int {
	if pred == nil {
		return 0
	}
	s.mu.Lock()
	var removed []Key
	for k, e := range s.entries {
		if !pred(e.key) {
			continue
		}
		for _, sub := range e.observers {
			s.closeSubLocked(sub)
		}
		delete(s.entries, k)
		s.group.Forget(k)
		removed = append(removed, e.key)
	}
	s.mu.Unlock()

	for _, key := range removed {
		s.unpersist(key)
	}
	return len(removed)
}

// Len reports the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the janitor, cancels in-flight fetches, closes every
// subscription and waits for fetch goroutines to exit.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, e := range s.entries {
		for _, sub := range e.observers {
			s.closeSubLocked(sub)
		}
	}
	s.mu.Unlock()

	s.cancel()
	if s.janitorDone != nil {
		<-s.janitorDone
	}
	s.flights.Wait()
	return nil
}
