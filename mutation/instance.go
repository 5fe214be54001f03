package mutation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of one mutation instance.
type State int

const (
	StateIdle State = iota
	StatePending
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Settled reports whether s is terminal.
func (s State) Settled() bool { return s == StateSuccess || s == StateError }

// Instance is a single invocation of a Mutation. It is never reused; every
// call to Mutate or MutateAsync returns a new one.
type Instance[P, R any] struct {
	id     uuid.UUID
	params P
	done   chan struct{}

	mu        sync.Mutex
	state     State
	data      R
	err       error
	startedAt time.Time
	settledAt time.Time
}

func newInstance[P, R any](params P) *Instance[P, R] {
	return &Instance[P, R]{
		id:     uuid.New(),
		params: params,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

func (in *Instance[P, R]) ID() uuid.UUID { return in.id }

func (in *Instance[P, R]) Params() P { return in.params }

func (in *Instance[P, R]) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Instance[P, R]) IsPending() bool { return in.State() == StatePending }

func (in *Instance[P, R]) IsError() bool { return in.State() == StateError }

func (in *Instance[P, R]) IsSuccess() bool { return in.State() == StateSuccess }

// Err returns the failure of a settled instance, verbatim.
func (in *Instance[P, R]) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Data returns the result of a successful call.
func (in *Instance[P, R]) Data() R {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.data
}

// Duration is zero until the instance settles.
func (in *Instance[P, R]) Duration() time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.settledAt.IsZero() {
		return 0
	}
	return in.settledAt.Sub(in.startedAt)
}

// Done is closed once the instance settles.
func (in *Instance[P, R]) Done() <-chan struct{} { return in.done }

// Wait blocks until the instance settles or ctx is done. Giving up on the
// wait does not stop the call.
func (in *Instance[P, R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-in.done:
		in.mu.Lock()
		defer in.mu.Unlock()
		return in.data, in.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (in *Instance[P, R]) begin(now time.Time) {
	in.mu.Lock()
	in.state = StatePending
	in.startedAt = now
	in.mu.Unlock()
}

func (in *Instance[P, R]) settle(data R, err error, now time.Time) {
	in.mu.Lock()
	if err != nil {
		in.state = StateError
		in.err = err
	} else {
		in.state = StateSuccess
		in.data = data
	}
	in.settledAt = now
	in.mu.Unlock()
	close(in.done)
}
