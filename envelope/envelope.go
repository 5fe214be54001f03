package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the response contract every backend call returns.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful envelope.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: &data}
}

// Fail builds a failed envelope carrying message.
func Fail[T any](message string) Envelope[T] {
	if message == "" {
		message = "unknown error"
	}
	return Envelope[T]{Success: false, Error: message}
}

// FromError converts err into a failed envelope. Domain errors keep their
// message verbatim.
func FromError[T any](err error) Envelope[T] {
	if err == nil {
		return Fail[T]("")
	}
	var de *DomainError
	if errors.As(err, &de) {
		return Fail[T](de.Message)
	}
	return Fail[T](err.Error())
}

// Validate reports whether e honors the success/data/error invariant.
func (e Envelope[T]) Validate() error {
	if e.Success {
		if e.Data == nil {
			return errors.New("envelope: success without data")
		}
		if e.Error != "" {
			return errors.New("envelope: success with error message")
		}
		return nil
	}
	if e.Error == "" {
		return errors.New("envelope: failure without error message")
	}
	return nil
}

// Unwrap returns the data of a successful envelope, or a *DomainError for a
// failed one.
func (e Envelope[T]) Unwrap() (T, error) {
	var zero T
	if !e.Success {
		return zero, &DomainError{Message: e.Error}
	}
	if e.Data == nil {
		return zero, &ParseError{Err: errors.New("envelope: success without data")}
	}
	return *e.Data, nil
}

// Decode parses body into an envelope and validates it. Malformed bodies and
// invariant violations are reported as *ParseError.
func Decode[T any](body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if len(body) == 0 {
		return env, &ParseError{Err: errors.New("envelope: empty body")}
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope[T]{}, &ParseError{Err: fmt.Errorf("envelope: decode: %w", err)}
	}
	if err := env.Validate(); err != nil {
		return Envelope[T]{}, &ParseError{Err: err}
	}
	return env, nil
}
