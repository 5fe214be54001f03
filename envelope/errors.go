package envelope

import (
	"context"
	"errors"
	"fmt"
)

// TransportError captures network failures, timeouts and non-envelope HTTP
// responses. Status is zero when no response was received.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("transport: %s: http %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("transport: %s: http %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// DomainError is a success:false envelope. Message is shown to users as is.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// ParseError reports a response body that is not a valid envelope.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// IsRetryable reports whether a read may be retried after err. Domain
// failures and caller cancellation are final; transport, parse and any other
// unclassified failures may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var de *DomainError
	return !errors.As(err, &de)
}

// IsDomain reports whether err is a domain failure.
func IsDomain(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// Message extracts the user-facing message of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
