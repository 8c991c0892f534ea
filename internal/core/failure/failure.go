// Package failure defines the error taxonomy shared by the reconciliation engine.
// This is part of the Functional Core - no I/O, only pure functions.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the engine must react to it.
type Kind string

const (
	KindSpecInvalid         Kind = "spec_invalid"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindPlatformUnavailable Kind = "platform_unavailable"
	KindPlatformRejected    Kind = "platform_rejected"
	KindHealthCheckFailed   Kind = "health_check_failed"
	KindTimeout             Kind = "timeout"
	KindRollbackFailed      Kind = "rollback_failed"
	KindLocked              Kind = "locked"
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "update service"), Err carries the underlying cause if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified failure with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind, recording the failed operation.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified failure in err's chain,
// or "" if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is transient and may be retried with backoff.
func Retryable(err error) bool {
	return Is(err, KindPlatformUnavailable)
}
