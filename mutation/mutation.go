// Package mutation runs state-changing calls exactly once and, on confirmed
// success, invalidates the query keys that depend on them.
package mutation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/envelope"
	"github.com/adeilh/rakh-sync/query"
)

const instrumentationName = "github.com/adeilh/rakh-sync/mutation"

// Func performs the state change.
type Func[P, R any] func(ctx context.Context, params P) (R, error)

// Mutation binds a Func to the keys it invalidates. It is safe for
// concurrent use; each invocation gets its own Instance.
type Mutation[P, R any] struct {
	store   *query.Store
	fn      Func[P, R]
	opts    options[P, R]
	logger  *zap.Logger
	tracer  trace.Tracer
	settled metric.Int64Counter
	now     func() time.Time
}

// New builds a Mutation. store may be nil when the call invalidates nothing.
func New[P, R any](store *query.Store, fn Func[P, R], opts ...Option[P, R]) *Mutation[P, R] {
	cfg := defaultOptions[P, R]()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	m := &Mutation[P, R]{
		store:  store,
		fn:     fn,
		opts:   cfg,
		logger: cfg.logger.Named("mutation").With(zap.String("mutation", cfg.name)),
		tracer: cfg.tracerProvider.Tracer(instrumentationName),
		now:    time.Now,
	}
	settled, err := cfg.meterProvider.Meter(instrumentationName).Int64Counter(
		"mutation.settled",
		metric.WithDescription("Settled mutation instances by outcome"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		m.logger.Warn("mutation: counter unavailable", zap.Error(err))
	}
	m.settled = settled
	return m
}

// Mutate runs the call and returns the settled instance. Failures are
// reported through the instance, never panicked or retried.
func (m *Mutation[P, R]) Mutate(ctx context.Context, params P) *Instance[P, R] {
	in := newInstance[P, R](params)
	in.begin(m.now())
	m.run(ctx, in)
	return in
}

// MutateAsync starts the call in a goroutine and returns the pending
// instance.
func (m *Mutation[P, R]) MutateAsync(ctx context.Context, params P) *Instance[P, R] {
	in := newInstance[P, R](params)
	in.begin(m.now())
	go m.run(ctx, in)
	return in
}

func (m *Mutation[P, R]) run(ctx context.Context, in *Instance[P, R]) {
	ctx, span := m.tracer.Start(ctx, "mutation "+m.opts.name,
		trace.WithAttributes(attribute.String("mutation.id", in.id.String())))
	defer span.End()

	data, err := m.call(ctx, in.params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.record(ctx, "error")
		m.logger.Info("mutation failed",
			zap.Stringer("id", in.id),
			zap.Bool("domain", envelope.IsDomain(err)),
			zap.Error(err),
		)
		if m.opts.onError != nil {
			m.guard(in, "onError", func() { m.opts.onError(in.params, err) })
		}
		in.settle(data, err, m.now())
		return
	}

	var n int
	m.guard(in, "invalidates", func() { n = m.invalidate(in.params, data) })
	span.SetAttributes(attribute.Int("mutation.invalidated", n))
	m.record(ctx, "success")
	m.logger.Debug("mutation succeeded", zap.Stringer("id", in.id), zap.Int("invalidated", n))
	if m.opts.onSuccess != nil {
		m.guard(in, "onSuccess", func() { m.opts.onSuccess(in.params, data) })
	}
	in.settle(data, nil, m.now())
}

// guard runs a caller-supplied hook. A panic is logged and the instance
// still settles.
func (m *Mutation[P, R]) guard(in *Instance[P, R], hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mutation hook panicked",
				zap.Stringer("id", in.id),
				zap.String("hook", hook),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (m *Mutation[P, R]) call(ctx context.Context, params P) (data R, err error) {
	if m.fn == nil {
		return data, fmt.Errorf("mutation: %s: no function", m.opts.name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation: %s: panic: %v", m.opts.name, r)
		}
	}()
	return m.fn(ctx, params)
}

func (m *Mutation[P, R]) invalidate(params P, data R) int {
	if m.store == nil || m.opts.invalidates == nil {
		return 0
	}
	keys := m.opts.invalidates(params, data)
	if len(keys) == 0 {
		return 0
	}
	return m.store.Invalidate(query.Keys(keys...))
}

func (m *Mutation[P, R]) record(ctx context.Context, outcome string) {
	if m.settled == nil {
		return
	}
	m.settled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mutation", m.opts.name),
		attribute.String("outcome", outcome),
	))
}

// FromEnvelope adapts a gateway call into a Func. A success:false envelope
// becomes a *envelope.DomainError carrying the server's message.
func FromEnvelope[P, T any](call func(ctx context.Context, params P) (envelope.Envelope[T], error)) Func[P, T] {
	return func(ctx context.Context, params P) (T, error) {
		env, err := call(ctx, params)
		if err != nil {
			var zero T
			return zero, err
		}
		return env.Unwrap()
	}
}
