// Package errs defines the error taxonomy shared by the inbound and
// outbound pipelines. Every component boundary surfaces a Kind plus a
// human-readable message; the dispatchers use the Kind to decide between
// retrying, dead-lettering as retriable, or dead-lettering as permanent.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and DLQ purposes.
type Kind int

const (
	Unknown Kind = iota
	EmailParsing
	Routing
	Storage
	Queue
	Relay
	Config
	Validation
	Idempotency
	RateLimit
	Platform
)

var kindNames = map[Kind]string{
	Unknown:      "unknown",
	EmailParsing: "email_parsing",
	Routing:      "routing",
	Storage:      "storage",
	Queue:        "queue",
	Relay:        "relay",
	Config:       "config",
	Validation:   "validation",
	Idempotency:  "idempotency",
	RateLimit:    "rate_limit",
	Platform:     "platform",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retriable reports whether errors of this kind are worth retrying.
// Transient infrastructure failures (storage, queue, relay, idempotency
// store) are; everything else is permanent.
func (k Kind) Retriable() bool {
	switch k {
	case Storage, Queue, Relay, Idempotency:
		return true
	default:
		return false
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error with additional context.
// A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Errors that do not carry
// a classification report Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsRetriable reports whether the error chain carries a retriable kind.
func IsRetriable(err error) bool {
	return KindOf(err).Retriable()
}
