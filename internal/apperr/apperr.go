// Package apperr defines the error codes surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeNotFound              Code = "not_found"
	CodeForbidden             Code = "forbidden"
	CodeIllegalTransition     Code = "illegal_transition"
	CodeInsufficientStock     Code = "insufficient_stock"
	CodeProductUnavailable    Code = "product_unavailable"
	CodeCartEmpty             Code = "cart_empty"
	CodeReviewAlreadyExists   Code = "review_already_exists"
	CodeNotCompleted          Code = "not_completed"
	CodeConflict              Code = "conflict"
	CodeInvalidArgument       Code = "invalid_argument"
	CodeInternalInconsistency Code = "internal_inconsistency"
	CodeInternal              Code = "internal"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrForbidden             = &Error{Code: CodeForbidden}
	ErrIllegalTransition     = &Error{Code: CodeIllegalTransition}
	ErrInsufficientStock     = &Error{Code: CodeInsufficientStock}
	ErrProductUnavailable    = &Error{Code: CodeProductUnavailable}
	ErrCartEmpty             = &Error{Code: CodeCartEmpty}
	ErrReviewAlreadyExists   = &Error{Code: CodeReviewAlreadyExists}
	ErrNotCompleted          = &Error{Code: CodeNotCompleted}
	ErrConflict              = &Error{Code: CodeConflict}
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument}
	ErrInternalInconsistency = &Error{Code: CodeInternalInconsistency}
)

// Error is a domain failure with a code, a caller-safe message and an
// optional cause that is never shown to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Code)
	}
	return "internal error"
}
