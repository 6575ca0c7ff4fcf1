// Package apperr defines the stable error taxonomy surfaced to API callers.
// Handlers and repositories wrap failures in one of a small set of kinds so
// the UI can distinguish "not allowed" from "gone" from "try again" without
// ever seeing raw store errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	Unauthenticated    Kind = "unauthenticated"
	PermissionDenied   Kind = "permission-denied"
	InvalidArgument    Kind = "invalid-argument"
	NotFound           Kind = "not-found"
	FailedPrecondition Kind = "failed-precondition"
	Internal           Kind = "internal"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with no cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil cause yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed.
// Unclassified non-nil errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-facing message of err without the wrapped cause.
// Unclassified errors get a generic message so store internals never leak.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}
