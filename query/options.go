package query

import (
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache"
	"github.com/adeilh/rakh-sync/envelope"
)

const (
	DefaultStaleTime  = 0
	DefaultGCTime     = 5 * time.Minute
	DefaultGCInterval = time.Minute
	DefaultRetry      = 3

	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

// RetryDelayFunc returns how long to wait before retry attempt n (1-based).
type RetryDelayFunc func(attempt int, err error) time.Duration

// RetryPolicy decides whether a failed read may be retried.
type RetryPolicy func(err error) bool

type storeOptions struct {
	staleTime      time.Duration
	gcTime         time.Duration
	gcInterval     time.Duration
	retry          int
	retryDelay     RetryDelayFunc
	retryable      RetryPolicy
	now            func() time.Time
	logger         *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	persister      cache.Store
	persistTTL     time.Duration
}

// Option configures a Store.
type Option func(*storeOptions)

func defaultStoreOptions() storeOptions {
	return storeOptions{
		staleTime:      DefaultStaleTime,
		gcTime:         DefaultGCTime,
		gcInterval:     DefaultGCInterval,
		retry:          DefaultRetry,
		retryDelay:     ExponentialBackoff,
		retryable:      envelope.IsRetryable,
		now:            time.Now,
		logger:         zap.NewNop(),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
}

// WithDefaultStaleTime sets how long fetched data counts as fresh when a read
// does not override it.
func WithDefaultStaleTime(d time.Duration) Option {
	return func(o *storeOptions) {
		if d >= 0 {
			o.staleTime = d
		}
	}
}

// WithGCTime sets the idle retention window of unobserved entries. A negative
// value disables eviction.
func WithGCTime(d time.Duration) Option {
	return func(o *storeOptions) {
		o.gcTime = d
	}
}

// WithGCInterval sets how often the janitor sweeps. Zero disables the janitor;
// CollectGarbage can still be called directly.
func WithGCInterval(d time.Duration) Option {
	return func(o *storeOptions) {
		if d >= 0 {
			o.gcInterval = d
		}
	}
}

// WithRetry sets the default number of extra attempts after a retryable failure.
func WithRetry(n int) Option {
	return func(o *storeOptions) {
		if n >= 0 {
			o.retry = n
		}
	}
}

func WithRetryDelay(fn RetryDelayFunc) Option {
	return func(o *storeOptions) {
		if fn != nil {
			o.retryDelay = fn
		}
	}
}

func WithRetryPolicy(fn RetryPolicy) Option {
	return func(o *storeOptions) {
		if fn != nil {
			o.retryable = fn
		}
	}
}

// WithClock replaces time.Now for staleness and GC decisions.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *storeOptions) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *storeOptions) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithPersister mirrors successful results into a byte cache so a cold store
// can serve them as stale data while refetching.
func WithPersister(store cache.Store, ttl time.Duration) Option {
	return func(o *storeOptions) {
		o.persister = store
		o.persistTTL = ttl
	}
}

// ExponentialBackoff doubles a one second base per attempt, caps it at 30s
// and adds up to 50% jitter.
func ExponentialBackoff(attempt int, _ error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRetryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay + time.Duration(rand.Int64N(int64(delay)/2+1))
}

// ConstantDelay waits d between attempts.
func ConstantDelay(d time.Duration) RetryDelayFunc {
	return func(int, error) time.Duration { return d }
}

type readOptions struct {
	staleTime time.Duration
	retry     int
}

// ReadOption overrides store defaults for a single query.
type ReadOption func(*readOptions)

// WithStaleTime sets the freshness window for this query.
func WithStaleTime(d time.Duration) ReadOption {
	return func(o *readOptions) {
		if d >= 0 {
			o.staleTime = d
		}
	}
}

// WithRetryCount sets the number of extra attempts for this query.
func WithRetryCount(n int) ReadOption {
	return func(o *readOptions) {
		if n >= 0 {
			o.retry = n
		}
	}
}
