package query

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/adeilh/rakh-sync/cache/memory"
	"github.com/adeilh/rakh-sync/envelope"
)

func waitFor(t *testing.T, sub *Subscription, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C():
			require.True(t, ok, "subscription closed")
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestSubscribeDeliversChanges(t *testing.T) {
	s := newTestStore(t)
	key := Feed("a")
	sub := s.Subscribe(key)
	defer sub.Close()

	initial := <-sub.C()
	assert.Equal(t, StatusIdle, initial.Status)
	assert.False(t, initial.HasData)

	go s.Read(context.Background(), key, func(context.Context) (any, error) { return "posts", nil })
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Status == StatusSuccess })
	assert.Equal(t, "posts", snap.Data)

	sub.Close()
	sub.Close()
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestInvalidateRefetchesObservedEntries(t *testing.T) {
	s := newTestStore(t)
	var calls atomic.Int32
	key := Feed("a")
	s.Read(context.Background(), key, counter(&calls), WithStaleTime(time.Hour))

	sub := s.Subscribe(key)
	defer sub.Close()

	s.Invalidate(Exact(key))
	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Data == "v2" && !s.Fetching })
	assert.False(t, snap.Stale)
	assert.Equal(t, int32(2), calls.Load())

	// Unobserved entries wait for the next read.
	other := Feed("b")
	s.Read(context.Background(), other, counter(&calls), WithStaleTime(time.Hour))
	s.Invalidate(Exact(other))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvalidationDuringFetchKeepsResultStale(t *testing.T) {
	s := newTestStore(t)
	key := Feed("a")
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		close(started)
		<-release
		return "before-mutation", nil
	}

	done := make(chan Snapshot, 1)
	go func() { done <- s.Read(context.Background(), key, fetch, WithStaleTime(time.Hour)) }()
	<-started
	s.Invalidate(Exact(key))
	close(release)

	snap := <-done
	assert.Equal(t, "before-mutation", snap.Data)
	assert.True(t, snap.Stale)
}

func TestInvalidationDuringFetchRefetchesObservedEntry(t *testing.T) {
	s := newTestStore(t)
	key := Feed("a")
	sub := s.Subscribe(key)
	defer sub.Close()

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "before-mutation", nil
		}
		return "after-mutation", nil
	}

	done := make(chan Snapshot, 1)
	go func() { done <- s.Read(context.Background(), key, fetch, WithStaleTime(time.Hour)) }()
	<-started
	s.Invalidate(Exact(key))
	close(release)

	snap := waitFor(t, sub, func(s Snapshot) bool { return s.Data == "after-mutation" && !s.Fetching })
	assert.False(t, snap.Stale)
	assert.Equal(t, int32(2), calls.Load())

	joined := <-done
	assert.Equal(t, "after-mutation", joined.Data)
}

func TestGarbageCollection(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now), WithGCTime(time.Minute))
	fetch := func(context.Context) (any, error) { return "x", nil }

	s.Read(context.Background(), Feed("idle"), fetch)
	s.Read(context.Background(), Feed("watched"), fetch)
	sub := s.Subscribe(Feed("watched"))

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, s.CollectGarbage())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.CollectGarbage())
	_, ok := s.Peek(Feed("idle"))
	assert.False(t, ok)

	sub.Close()
	assert.Equal(t, 0, s.CollectGarbage(), "closing a subscription counts as access")
	clock.Advance(time.Minute)
	assert.Equal(t, 1, s.CollectGarbage())
	assert.Equal(t, 0, s.Len())
}

func TestGarbageCollectionDisabled(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now), WithGCTime(-1))
	s.Read(context.Background(), Feed("a"), func(context.Context) (any, error) { return "x", nil })
	clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, s.CollectGarbage())
	assert.Equal(t, 1, s.Len())
}

func TestJanitorEvictsIdleEntries(t *testing.T) {
	s := NewStore(WithGCTime(0), WithGCInterval(5*time.Millisecond))
	defer s.Close()
	s.Read(context.Background(), Feed("a"), func(context.Context) (any, error) { return "x", nil })
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

type post struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func TestPersisterHydratesColdStore(t *testing.T) {
	mem := memory.NewStore()
	key := Feed("a")

	warm := NewStore(WithGCInterval(0), WithPersister(mem, time.Hour))
	res := Fetch(context.Background(), warm, Query[[]post]{
		Key: key,
		Fn:  func(context.Context) ([]post, error) { return []post{{ID: "p1", Body: "hello"}}, nil },
	})
	require.NoError(t, res.Err)
	require.NoError(t, warm.Close())

	cold := newTestStore(t, WithPersister(mem, time.Hour))
	release := make(chan struct{})
	q := Query[[]post]{
		Key: key,
		Fn: func(context.Context) ([]post, error) {
			<-release
			return []post{{ID: "p2", Body: "fresh"}}, nil
		},
	}

	restored := Read(context.Background(), cold, q)
	require.NoError(t, restored.Err)
	assert.True(t, restored.HasData)
	assert.True(t, restored.IsStale)
	assert.True(t, restored.IsFetching)
	assert.False(t, restored.IsLoading)
	assert.Equal(t, []post{{ID: "p1", Body: "hello"}}, restored.Data)

	close(release)
	fresh := Fetch(context.Background(), cold, q)
	require.NoError(t, fresh.Err)
	assert.Equal(t, "p2", fresh.Data[0].ID)
}

func TestTypedReadFromEnvelope(t *testing.T) {
	s := newTestStore(t)
	ok := Read(context.Background(), s, Query[[]string]{
		Key: SuggestedUsers("a"),
		Fn: FromEnvelope(func(context.Context) (envelope.Envelope[[]string], error) {
			return envelope.OK([]string{"b"}), nil
		}),
	})
	require.NoError(t, ok.Err)
	assert.Equal(t, []string{"b"}, ok.Data)
	assert.Equal(t, StatusSuccess, ok.Status)

	failed := Read(context.Background(), s, Query[[]string]{
		Key: SuggestedUsers("ghost"),
		Fn: FromEnvelope(func(context.Context) (envelope.Envelope[[]string], error) {
			return envelope.Fail[[]string]("user not found"), nil
		}),
	})
	assert.True(t, failed.IsError)
	assert.False(t, failed.HasData)
	assert.True(t, envelope.IsDomain(failed.Err))

	transport := Read(context.Background(), s, Query[[]string]{
		Key: SuggestedUsers("down"),
		Fn: FromEnvelope(func(context.Context) (envelope.Envelope[[]string], error) {
			return envelope.Envelope[[]string]{}, errors.New("dial tcp: refused")
		}),
		Options: []ReadOption{WithRetryCount(0)},
	})
	assert.EqualError(t, transport.Err, "dial tcp: refused")
}

func TestResultOfWrongType(t *testing.T) {
	r := ResultOf[int](Snapshot{HasData: true, Data: "not an int", Status: StatusSuccess})
	assert.False(t, r.HasData)
	assert.Error(t, r.Err)
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsAndTracing(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s := newTestStore(t, WithMeterProvider(mp), WithTracerProvider(tp), WithRetry(1))
	key := Feed("a")
	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &envelope.TransportError{Op: "GET /feed/a", Status: 500}
		}
		return "ok", nil
	}

	s.Read(context.Background(), key, fetch, WithStaleTime(time.Minute))
	s.Read(context.Background(), key, fetch, WithStaleTime(time.Minute))
	s.Invalidate(ByTag(TagFeed))

	assert.Equal(t, int64(1), counterValue(t, reader, "query.cache.hits"))
	assert.Equal(t, int64(1), counterValue(t, reader, "query.cache.misses"))
	assert.Equal(t, int64(2), counterValue(t, reader, "query.fetches"))
	assert.Equal(t, int64(1), counterValue(t, reader, "query.retries"))
	assert.Equal(t, int64(1), counterValue(t, reader, "query.invalidations"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "query.fetch feed", spans[0].Name())
}
