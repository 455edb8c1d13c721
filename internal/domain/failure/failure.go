// Package failure defines the task failure taxonomy. Every per-task failure
// reaching the Supervisor boundary is converted into an *Error and from there
// into a structured failure response.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a task did not complete.
type Kind string

const (
	KindConfiguration           Kind = "ConfigurationError"
	KindAmbiguousIntent         Kind = "AmbiguousIntent"
	KindRoutingLoopExceeded     Kind = "RoutingLoopExceeded"
	KindToolValidationExhausted Kind = "ToolValidationExhausted"
	KindLoopBudgetExceeded      Kind = "LoopBudgetExceeded"
	KindDestructiveRefused      Kind = "DestructiveActionRefused"
	KindTimeout                 Kind = "Timeout"
	KindCancelled               Kind = "Cancelled"
	KindRemoteError             Kind = "RemoteError"
	KindInternal                Kind = "Internal"
)

// Error is a task failure. LastAction names the last attempted tool (empty
// when none was attempted).
type Error struct {
	Kind       Kind
	LastAction string
	Err        error
}

// New builds a failure of the given kind.
func New(kind Kind, lastAction string, err error) *Error {
	return &Error{Kind: kind, LastAction: lastAction, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.LastAction != "" {
		msg += " after " + e.LastAction
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &failure.Error{Kind: failure.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf classifies err. Context errors map to Timeout and Cancelled;
// anything unrecognized is Internal.
func KindOf(err error) Kind {
	var fe *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// From converts any error into an *Error, keeping an existing one intact.
func From(err error, lastAction string) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.LastAction == "" && lastAction != "" {
			return &Error{Kind: fe.Kind, LastAction: lastAction, Err: fe.Err}
		}
		return fe
	}
	return &Error{Kind: KindOf(err), LastAction: lastAction, Err: err}
}

// Errorf builds a failure with a formatted cause.
func Errorf(kind Kind, lastAction, format string, args ...any) *Error {
	return New(kind, lastAction, fmt.Errorf(format, args...))
}
