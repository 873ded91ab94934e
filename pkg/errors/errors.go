// Package errors is the typed failure vocabulary shared by services and the
// transport layer. Services raise these; the route layer is the only place
// that turns them into status codes and response bodies.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error carries a classification code alongside a human-readable reason.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a typed error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error while preserving it
// for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the classification of err, defaulting to CodeInternal for
// untyped errors so unexpected faults never leak detail past the route layer.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Reason extracts the user-facing message of err. Untyped errors collapse to
// a generic reason.
func Reason(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
