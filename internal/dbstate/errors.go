package dbstate

import (
	"errors"
	"strings"
)

// Kind classifies a failure for the request boundary.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindPrecondition        Kind = "precondition"
	KindConfiguration       Kind = "configuration"
	KindTransition          Kind = "transition"
	KindDatabaseUnavailable Kind = "database_unavailable"
	KindBackup              Kind = "backup"
)

// Error is returned by the engine and the backup manager. Msg is safe to show
// to callers; Err carries the underlying cause for logs only.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the caller-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}
