// Package editerr is the error taxonomy surfaced at the API boundary.
package editerr

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible error code.
type Code string

const (
	CodeDecode     Code = "DECODE"     // 422
	CodeValidation Code = "VALIDATION" // 400
	CodeNotFound   Code = "NOT_FOUND"  // 404
	CodeUpstream   Code = "UPSTREAM"   // 502
	CodeConflict   Code = "CONFLICT"   // 409
	CodeInternal   Code = "INTERNAL"   // 500
)

// Error is a classified error with its HTTP status.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewDecode wraps an image decode failure.
func NewDecode(err error) *Error {
	return &Error{Code: CodeDecode, Status: 422, Message: "image could not be decoded", Err: err}
}

// NewValidation reports a malformed request.
func NewValidation(msg string) *Error {
	return &Error{Code: CodeValidation, Status: 400, Message: msg}
}

// NewValidationErr reports a malformed request detected by err.
func NewValidationErr(err error) *Error {
	return &Error{Code: CodeValidation, Status: 400, Message: err.Error(), Err: err}
}

// NewNotFound reports a missing resource of the given kind.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewUpstream wraps a failure of an external service.
func NewUpstream(service string, err error) *Error {
	return &Error{
		Code:    CodeUpstream,
		Status:  502,
		Message: service + " failed",
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// NewConflict reports a uniqueness or state conflict.
func NewConflict(msg string) *Error {
	return &Error{Code: CodeConflict, Status: 409, Message: msg}
}

// NewInternal wraps an unexpected failure.
func NewInternal(err error) *Error {
	return &Error{Code: CodeInternal, Status: 500, Message: "internal error", Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err's chain contains an *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Classify returns err as an *Error, treating anything unclassified as
// internal.
func Classify(err error) *Error {
	if e, ok := As(err); ok {
		return e
	}
	return NewInternal(err)
}
