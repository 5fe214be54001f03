package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adeilh/rakh-sync/cache/memory"
	"github.com/adeilh/rakh-sync/envelope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// counter returns a fetcher that yields "v1", "v2", ... and counts calls.
func counter(calls *atomic.Int32) Fetcher {
	return func(context.Context) (any, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithGCInterval(0), WithRetryDelay(ConstantDelay(0))}
	s := NewStore(append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReadDeduplicatesConcurrentFetches(t *testing.T) {
	s := newTestStore(t)
	key := Feed("a")

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return "feed-a", nil
	}

	const readers = 16
	results := make([]Snapshot, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Read(context.Background(), key, fetch, WithStaleTime(time.Minute))
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, snap := range results {
		require.NoError(t, snap.Err)
		assert.Equal(t, "feed-a", snap.Data)
		assert.Equal(t, StatusSuccess, snap.Status)
	}
}

func TestReadWithinStaleTimeIsCached(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	var calls atomic.Int32
	key := Feed("a")

	first := s.Read(context.Background(), key, counter(&calls), WithStaleTime(time.Minute))
	clock.Advance(30 * time.Second)
	second := s.Read(context.Background(), key, counter(&calls), WithStaleTime(time.Minute))

	assert.Equal(t, "v1", first.Data)
	assert.Equal(t, first.Data, second.Data)
	assert.False(t, second.Stale)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, clock.Now().Add(-30*time.Second).Add(time.Minute), second.StaleAt)
}

func TestReadAfterStaleTimeServesStaleAndRevalidates(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	var calls atomic.Int32
	key := Feed("a")

	s.Read(context.Background(), key, counter(&calls), WithStaleTime(time.Minute))
	clock.Advance(2 * time.Minute)

	stale := s.Read(context.Background(), key, counter(&calls), WithStaleTime(time.Minute))
	assert.Equal(t, "v1", stale.Data)
	assert.True(t, stale.Stale)
	assert.True(t, stale.Fetching)

	fresh := s.Fetch(context.Background(), key, counter(&calls), WithStaleTime(time.Minute))
	assert.Equal(t, "v2", fresh.Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidateForcesRefetch(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	key := Feed("a")
	opts := []ReadOption{WithStaleTime(time.Hour)}

	s.Read(context.Background(), key, counter(&calls), opts...)
	require.Equal(t, 1, s.Invalidate(Exact(key)))

	snap, ok := s.Peek(key)
	require.True(t, ok)
	assert.True(t, snap.Stale)
	assert.Equal(t, "v1", snap.Data, "invalidation keeps the previous value")

	stale := s.Read(context.Background(), key, counter(&calls), opts...)
	assert.Equal(t, "v1", stale.Data)

	fresh := s.Fetch(context.Background(), key, counter(&calls), opts...)
	assert.Equal(t, "v2", fresh.Data)
	assert.False(t, fresh.Stale)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidatePredicates(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	opts := []ReadOption{WithStaleTime(time.Hour)}
	for _, k := range []Key{Feed("a"), Feed("b"), SuggestedUsers("a"), NewKey(TagFeed, "a", "page-2")} {
		s.Read(context.Background(), k, counter(&calls), opts...)
	}

	assert.Equal(t, 2, s.Invalidate(TagPrefix(TagFeed, "a")))
	assert.Equal(t, 1, s.Invalidate(Keys(SuggestedUsers("a"), SuggestedUsers("zzz"))))
	assert.Equal(t, 0, s.Invalidate(ByTag(TagFollowers)))

	snap, _ := s.Peek(Feed("b"))
	assert.False(t, snap.Stale)
	snap, _ = s.Peek(NewKey(TagFeed, "a", "page-2"))
	assert.True(t, snap.Stale)

	assert.Equal(t, 4, s.Invalidate(All()))
	assert.Equal(t, 0, s.Invalidate(nil))
}

func TestReadKeepsLastGoodDataOnError(t *testing.T) {
	s := newTestStore(t, WithRetry(0))
	key := Feed("a")
	s.Read(context.Background(), key, func(context.Context) (any, error) { return "good", nil })
	s.Invalidate(Exact(key))

	boom := &envelope.TransportError{Op: "GET /feed/a", Err: errors.New("connection reset")}
	snap := s.Fetch(context.Background(), key, func(context.Context) (any, error) { return nil, boom })

	assert.Equal(t, StatusError, snap.Status)
	assert.True(t, snap.IsError())
	assert.ErrorIs(t, snap.Err, boom)
	assert.True(t, snap.HasData)
	assert.Equal(t, "good", snap.Data)
	assert.Equal(t, 1, snap.Failures)
}

func TestRetryOnTransportError(t *testing.T) {
	s := newTestStore(t, WithRetry(3))
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, &envelope.TransportError{Op: "GET /feed/a", Status: 503}
		}
		return "ok", nil
	}

	snap := s.Read(context.Background(), Feed("a"), fetch)
	require.NoError(t, snap.Err)
	assert.Equal(t, "ok", snap.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, &envelope.ParseError{Err: errors.New("bad json")}
	}

	snap := s.Read(context.Background(), Feed("a"), fetch, WithRetryCount(2))
	assert.Equal(t, StatusError, snap.Status)
	assert.False(t, snap.HasData)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDomainErrorIsNotRetried(t *testing.T) {
	s := newTestStore(t, WithRetry(5))
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, &envelope.DomainError{Message: "user not found"}
	}

	snap := s.Read(context.Background(), Feed("ghost"), fetch)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "user not found", envelope.Message(snap.Err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCanceledReaderDoesNotAbortFetch(t *testing.T) {
	s := newTestStore(t)
	key := Feed("a")
	release := make(chan struct{})
	started := make(chan struct{})
	var fetchErr atomic.Value
	fetch := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		fetchErr.Store(fmt.Sprint(ctx.Err()))
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Snapshot, 1)
	go func() { done <- s.Read(ctx, key, fetch, WithStaleTime(time.Minute)) }()

	<-started
	cancel()
	abandoned := <-done
	assert.ErrorIs(t, abandoned.Err, context.Canceled)
	assert.True(t, abandoned.IsLoading())

	close(release)
	snap := s.Fetch(context.Background(), key, nil, WithStaleTime(time.Minute))
	assert.Equal(t, "late", snap.Data)
	assert.Equal(t, "<nil>", fetchErr.Load())
}

func TestReadWithoutFetcher(t *testing.T) {
	s := newTestStore(t)
	snap := s.Read(context.Background(), Feed("a"), nil)
	assert.ErrorIs(t, snap.Err, ErrNoFetcher)
	assert.Equal(t, StatusIdle, snap.Status)
}

func TestSetDataAndRemove(t *testing.T) {
	mem := memory.NewStore()
	s := newTestStore(t, WithPersister(mem, time.Hour))
	key := SuggestedUsers("a")
	require.NoError(t, s.SetData(key, []string{"b", "c"}))

	snap := s.Read(context.Background(), key, func(context.Context) (any, error) {
		t.Fatal("fresh data must not be refetched")
		return nil, nil
	}, WithStaleTime(time.Minute))
	assert.Equal(t, []string{"b", "c"}, snap.Data)
	assert.Equal(t, 1, snap.Updates)
	assert.Equal(t, 1, mem.Len())

	assert.Equal(t, 1, s.Remove(Exact(key)))
	_, ok := s.Peek(key)
	assert.False(t, ok)
	assert.Equal(t, 0, mem.Len())
}

func TestRemoveDuringFetchStartsNewFlight(t *testing.T) {
	mem := memory.NewStore()
	s := newTestStore(t, WithPersister(mem, time.Hour))
	key := Feed("a")
	started := make(chan struct{})
	release := make(chan struct{})
	old := make(chan Snapshot, 1)
	go func() {
		old <- s.Read(context.Background(), key, func(context.Context) (any, error) {
			close(started)
			<-release
			return "removed", nil
		})
	}()
	<-started
	assert.Equal(t, 1, s.Remove(Exact(key)))

	snap := s.Read(context.Background(), key, func(context.Context) (any, error) { return "fresh", nil })
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, "fresh", snap.Data)

	close(release)
	assert.Equal(t, "removed", (<-old).Data)
	cur, ok := s.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "fresh", cur.Data)
	assert.Equal(t, 1, mem.Len())
}

func TestClosedStore(t *testing.T) {
	s := NewStore(WithGCInterval(10 * time.Millisecond))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	snap := s.Read(context.Background(), Feed("a"), func(context.Context) (any, error) { return "x", nil })
	assert.ErrorIs(t, snap.Err, ErrClosed)
	assert.ErrorIs(t, s.SetData(Feed("a"), "x"), ErrClosed)

	sub := s.Subscribe(Feed("a"))
	_, open := <-sub.C()
	assert.False(t, open)
	sub.Close()
}

func TestCloseCancelsRetryBackoff(t *testing.T) {
	s := NewStore(WithGCInterval(0), WithRetry(5), WithRetryDelay(ConstantDelay(time.Hour)))
	started := make(chan struct{})
	var once sync.Once
	fetch := func(context.Context) (any, error) {
		once.Do(func() { close(started) })
		return nil, &envelope.TransportError{Op: "GET /feed/a", Status: 502}
	}

	done := make(chan Snapshot, 1)
	go func() { done <- s.Read(context.Background(), Feed("a"), fetch) }()
	<-started

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	select {
	case snap := <-done:
		assert.Equal(t, StatusError, snap.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not settle after Close")
	}
	<-closed
}

func TestKeyIdentity(t *testing.T) {
	assert.True(t, Feed("a").Equal(NewKey("feed", "a")))
	assert.False(t, Feed("a").Equal(Feed("b")))
	assert.False(t, NewKey("x", "a,b").Equal(NewKey("x", "a", "b")))
	assert.NotEqual(t, NewKey("x", "a,b").String(), NewKey("x", "a", "b").String())
	assert.Equal(t, `feed("a")`, Feed("a").String())
	assert.Equal(t, `suggestedUsers()`, NewKey(TagSuggestedUsers).String())

	params := []string{"a"}
	k := NewKey(TagFeed, params...)
	params[0] = "mutated"
	assert.Equal(t, []string{"a"}, k.Params())
}

func TestExponentialBackoff(t *testing.T) {
	for attempt, base := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 30 * time.Second} {
		d := ExponentialBackoff(attempt, nil)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}
