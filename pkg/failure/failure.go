// Package failure is the error taxonomy every async operation resolves to.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// StoreFailure is any other error surfaced by the storage driver.
	StoreFailure Kind = iota + 1
	// NotFound means the requested document id does not exist.
	NotFound
	// DeadlineExceeded means the operation ran past its execution ceiling.
	DeadlineExceeded
	// Closed means the operation was submitted after shutdown.
	Closed
	// Config is a missing or invalid startup setting.
	Config
)

// Code returns the numeric code carried on the wire. Store failures are 1 and
// not-found is 2 so older clients keep branching the same way.
func (k Kind) Code() int { return int(k) }

func (k Kind) String() string {
	switch k {
	case StoreFailure:
		return "store_failure"
	case NotFound:
		return "not_found"
	case DeadlineExceeded:
		return "deadline_exceeded"
	case Closed:
		return "closed"
	case Config:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrStoreFailure     = &Error{Kind: StoreFailure, Message: "store failure"}
	ErrNotFound         = &Error{Kind: NotFound, Message: "not found"}
	ErrDeadlineExceeded = &Error{Kind: DeadlineExceeded, Message: "deadline exceeded"}
	ErrClosed           = &Error{Kind: Closed, Message: "closed"}
	ErrConfig           = &Error{Kind: Config, Message: "configuration error"}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns a failure of kind k.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind k. The message is err's message.
func Wrap(k Kind, err error) *Error {
	return &Error{Kind: k, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Kind.Code(), e.Message)
}

// Code is a shorthand for e.Kind.Code().
func (e *Error) Code() int { return e.Kind.Code() }

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of err. Context deadline errors count as
// DeadlineExceeded; anything unclassified is a StoreFailure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DeadlineExceeded
	}
	return StoreFailure
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case DeadlineExceeded, StoreFailure:
		return true
	}
	return false
}
