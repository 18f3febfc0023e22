// Package orcherr defines the closed error taxonomy shared by every engine.
// Engines never retry; they surface a Kind and let the caller decide.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds an engine can surface.
type Kind string

const (
	NotFound           Kind = "NotFound"
	AlreadyExists      Kind = "AlreadyExists"
	InvalidArgument    Kind = "InvalidArgument"
	PreconditionFailed Kind = "PreconditionFailed"
	ResourceExhausted  Kind = "ResourceExhausted"
	Unavailable        Kind = "Unavailable"
	Cancelled          Kind = "Cancelled"
	Internal           Kind = "Internal"
)

// retryable reports whether a Kind is, on its own, safe for a caller to retry.
var retryable = map[Kind]bool{
	NotFound:           false,
	AlreadyExists:      false,
	InvalidArgument:    false,
	PreconditionFailed: false,
	ResourceExhausted:  true,
	Unavailable:        true,
	Cancelled:          false,
	Internal:           false,
}

// Error is the shape every engine operation returns on failure:
// {kind, message, retryable}.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error for the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable[kind]}
}

// Wrap annotates an existing error with a kind, preserving it as Cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable[kind], Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsNotFound is a convenience check used by engines that tolerate missing rows.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}
