package query

import "time"

// Status is the fetch state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of a cache entry at one instant.
type Snapshot struct {
	Key       Key
	Data      any
	HasData   bool
	Status    Status
	Err       error
	FetchedAt time.Time
	StaleAt   time.Time
	// Stale is true when StaleAt is not after the snapshot time.
	Stale bool
	// Fetching is true while a fetch for the key is in flight.
	Fetching bool
	// Updates counts successful fetches and direct writes.
	Updates int
	// Failures counts settled fetch failures.
	Failures int
}

// IsLoading reports a first load: no data yet and a fetch is running.
func (s Snapshot) IsLoading() bool { return !s.HasData && (s.Fetching || s.Status == StatusLoading) }

// IsError reports whether the last fetch failed.
func (s Snapshot) IsError() bool { return s.Status == StatusError }
