package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation for the caller.
type Kind string

const (
	// Validation means the caller sent malformed input; never retried.
	Validation Kind = "validation"
	// Conflict is a legitimate business outcome (overlap, duplicate scan);
	// surfaced verbatim, never retried.
	Conflict Kind = "conflict"
	// Authorization covers device/session mismatches; forces sign-out.
	Authorization Kind = "authorization"
	// Unavailable means the answer is indeterminate (no location fix);
	// the gated action must be blocked, not denied.
	Unavailable Kind = "unavailable"
	// Transient is a store or network failure; retrying the user action
	// may succeed.
	Transient Kind = "transient"
)

// Error carries a kind and a human-readable reason across the API boundary.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fault with a formatted reason.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and reason to an underlying error.
func Wrap(err error, kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the kind from an error chain; unknown errors are Transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
