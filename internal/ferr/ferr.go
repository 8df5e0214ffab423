// Package ferr defines the error taxonomy used across the daemon. Every
// error that crosses a package boundary should be classified into one of
// these codes so the API layer can map it to an HTTP status in one place.
package ferr

import (
	"errors"
	"fmt"
)

// Code classifies an error for the purpose of HTTP status mapping and
// caller decision making (retry, give up, surface to the user).
type Code int

const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeConflict
	CodeInvalid
	CodeUnauthorized
	CodeForbidden
	CodeBackend
	CodeTimeout
	CodeCancelled
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeConflict:
		return "conflict"
	case CodeInvalid:
		return "invalid"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeForbidden:
		return "forbidden"
	case CodeBackend:
		return "backend"
	case CodeTimeout:
		return "timeout"
	case CodeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a Code and an underlying cause.
type Error struct {
	Code Code
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

func new_(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return new_(CodeNotFound, fmt.Sprintf(format, args...), nil)
}

// Conflict builds a CodeConflict error.
func Conflict(format string, args ...any) *Error {
	return new_(CodeConflict, fmt.Sprintf(format, args...), nil)
}

// Invalid builds a CodeInvalid error.
func Invalid(format string, args ...any) *Error {
	return new_(CodeInvalid, fmt.Sprintf(format, args...), nil)
}

// Unauthorized builds a CodeUnauthorized error.
func Unauthorized(format string, args ...any) *Error {
	return new_(CodeUnauthorized, fmt.Sprintf(format, args...), nil)
}

// Forbidden builds a CodeForbidden error.
func Forbidden(format string, args ...any) *Error {
	return new_(CodeForbidden, fmt.Sprintf(format, args...), nil)
}

// Backend wraps err as a CodeBackend error, for failures talking to the
// store, container engine or an external controller.
func Backend(err error, format string, args ...any) *Error {
	return new_(CodeBackend, fmt.Sprintf(format, args...), err)
}

// Timeout builds a CodeTimeout error.
func Timeout(format string, args ...any) *Error {
	return new_(CodeTimeout, fmt.Sprintf(format, args...), nil)
}

// Cancelled builds a CodeCancelled error.
func Cancelled(format string, args ...any) *Error {
	return new_(CodeCancelled, fmt.Sprintf(format, args...), nil)
}

// GetCode extracts the Code from err, walking the unwrap chain. Returns
// CodeUnknown if err does not wrap a *Error.
func GetCode(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}
