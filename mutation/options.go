package mutation

import (
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/query"
)

type options[P, R any] struct {
	name           string
	invalidates    func(P, R) []query.Key
	onSuccess      func(P, R)
	onError        func(P, error)
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Mutation.
type Option[P, R any] func(*options[P, R])

func defaultOptions[P, R any]() options[P, R] {
	return options[P, R]{
		name:           "mutation",
		logger:         zap.NewNop(),
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
}

// WithName labels logs, spans and metrics of the mutation.
func WithName[P, R any](name string) Option[P, R] {
	return func(o *options[P, R]) {
		if name != "" {
			o.name = name
		}
	}
}

// WithInvalidates declares the query keys a successful call makes stale.
func WithInvalidates[P, R any](fn func(P, R) []query.Key) Option[P, R] {
	return func(o *options[P, R]) {
		o.invalidates = fn
	}
}

// WithOnSuccess runs fn after the declared keys were invalidated.
func WithOnSuccess[P, R any](fn func(P, R)) Option[P, R] {
	return func(o *options[P, R]) {
		o.onSuccess = fn
	}
}

// WithOnError runs fn when the call fails.
func WithOnError[P, R any](fn func(P, error)) Option[P, R] {
	return func(o *options[P, R]) {
		o.onError = fn
	}
}

func WithLogger[P, R any](logger *zap.Logger) Option[P, R] {
	return func(o *options[P, R]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracerProvider[P, R any](tp trace.TracerProvider) Option[P, R] {
	return func(o *options[P, R]) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

func WithMeterProvider[P, R any](mp metric.MeterProvider) Option[P, R] {
	return func(o *options[P, R]) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}
