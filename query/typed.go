package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adeilh/rakh-sync/envelope"
)

// QueryFunc loads a typed value.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Query binds a key to the function that loads it.
type Query[T any] struct {
	Key     Key
	Fn      QueryFunc[T]
	Options []ReadOption
}

func (q Query[T]) fetcher() Fetcher {
	if q.Fn == nil {
		return nil
	}
	fn := q.Fn
	return func(ctx context.Context) (any, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Result is the typed view a caller binds to.
type Result[T any] struct {
	Key        Key
	Data       T
	HasData    bool
	Status     Status
	Err        error
	IsLoading  bool
	IsError    bool
	IsStale    bool
	IsFetching bool
	FetchedAt  time.Time
}

// Read is the typed form of Store.Read.
func Read[T any](ctx context.Context, s *Store, q Query[T]) Result[T] {
	return ResultOf[T](s.Read(ctx, q.Key, q.fetcher(), q.Options...))
}

// Fetch is the typed form of Store.Fetch.
func Fetch[T any](ctx context.Context, s *Store, q Query[T]) Result[T] {
	return ResultOf[T](s.Fetch(ctx, q.Key, q.fetcher(), q.Options...))
}

// ResultOf converts a snapshot. Data restored from a persister is decoded
// from JSON into T.
func ResultOf[T any](snap Snapshot) Result[T] {
	r := Result[T]{
		Key:        snap.Key,
		Status:     snap.Status,
		Err:        snap.Err,
		IsError:    snap.IsError(),
		IsStale:    snap.Stale,
		IsFetching: snap.Fetching,
		FetchedAt:  snap.FetchedAt,
	}
	if snap.HasData {
		data, err := decodeData[T](snap.Data)
		if err != nil {
			if r.Err == nil {
				r.Err = err
			}
		} else {
			r.Data = data
			r.HasData = true
		}
	}
	r.IsLoading = !r.HasData && (snap.Fetching || snap.Status == StatusLoading)
	return r
}

func decodeData[T any](v any) (T, error) {
	var zero T
	switch d := v.(type) {
	case T:
		return d, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(d, &out); err != nil {
			return zero, &envelope.ParseError{Err: fmt.Errorf("query: restore: %w", err)}
		}
		return out, nil
	default:
		return zero, fmt.Errorf("query: cached data has type %T", v)
	}
}

// FromEnvelope adapts a gateway call into a QueryFunc. A success:false
// envelope becomes a *envelope.DomainError, which is never retried.
func FromEnvelope[T any](call func(ctx context.Context) (envelope.Envelope[T], error)) QueryFunc[T] {
	return func(ctx context.Context) (T, error) {
		env, err := call(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		return env.Unwrap()
	}
}
