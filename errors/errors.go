// Package errors defines the error kinds surfaced by room operations and
// the sentinels shared across packages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by how callers must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindBadState
	KindNotFound
	KindConflict
	KindSync
	KindTransient
	KindFatal
	KindShuttingDown
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindBadState:
		return "bad_state"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSync:
		return "sync"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Error carries a user-visible message and its kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

func Authorization(format string, args ...any) error {
	return newf(KindAuthorization, format, args...)
}

func BadState(format string, args ...any) error { return newf(KindBadState, format, args...) }

func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

func Sync(format string, args ...any) error { return newf(KindSync, format, args...) }

// Transient wraps an upstream failure that is expected to clear on retry.
func Transient(err error, format string, args ...any) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Fatal wraps an internal invariant violation.
func Fatal(err error, format string, args ...any) error {
	return &Error{Kind: KindFatal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the user-visible message of err.
func Message(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// IsClientVisible reports whether err is reported back to the caller as an
// error event rather than being logged as an internal failure.
func IsClientVisible(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindAuthorization, KindBadState, KindNotFound, KindSync, KindConflict:
		return true
	}
	return false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
	ErrVersionMismatch = &Error{Kind: KindConflict, Msg: "the race was updated by someone else, please refresh"}
	ErrRoomBusy        = &Error{Kind: KindTransient, Msg: "the race is busy, try again"}
	ErrShuttingDown    = &Error{Kind: KindShuttingDown, Msg: "server is shutting down"}
	ErrDuplicateAction = &Error{Kind: KindConflict, Msg: "duplicate action"}
	ErrSlugExhausted   = &Error{Kind: KindFatal, Msg: "could not allocate a free race slug"}
	ErrRateLimited     = &Error{Kind: KindValidation, Msg: "you are sending messages too quickly"}
)
