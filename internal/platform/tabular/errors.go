package tabular

import (
	"context"
	"errors"
	"fmt"
)

// Error annotates backend failures with the categories repositories rely upon.
type Error struct {
	Op    string
	Table string
	Err   error

	notFound    bool
	conflict    bool
	unavailable bool
	timeout     bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Table != "" {
		return fmt.Sprintf("tabular %s %q: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("tabular %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the table or row was missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports duplicate keys and lost concurrent writes.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports transient backend failures worth retrying.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// IsTimeout reports whether the call exceeded its deadline.
func (e *Error) IsTimeout() bool { return e != nil && e.timeout }

// WrapError classifies err for the operation. Nil stays nil and already wrapped errors are
// returned unchanged.
func WrapError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	wrapped := &Error{Op: op, Table: table, Err: err}
	switch {
	case errors.Is(err, ErrTableNotFound), errors.Is(err, ErrRowNotFound):
		wrapped.notFound = true
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrConflict):
		wrapped.conflict = true
	case errors.Is(err, ErrColumnNotFound):
	case errors.Is(err, context.Canceled):
	case errors.Is(err, context.DeadlineExceeded):
		wrapped.unavailable = true
		wrapped.timeout = true
	default:
		wrapped.unavailable = true
	}
	return wrapped
}
