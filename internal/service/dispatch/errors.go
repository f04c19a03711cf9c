package dispatch

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeValidation        ErrorCode = "validation_error"
	ErrorCodeNotFound          ErrorCode = "not_found"
	ErrorCodeInvalidTransition ErrorCode = "invalid_transition"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodeCapacityExceeded  ErrorCode = "capacity_exceeded"
	ErrorCodePersistence       ErrorCode = "persistence_error"
	ErrorCodeInternal          ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not a
// dispatch error.
func CodeOf(err error) ErrorCode {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrorCodeNotFound
}

func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrorCodeInvalidTransition
}

func sessionNotFound(id string) *Error {
	return newError(ErrorCodeNotFound, fmt.Sprintf("session %s not found", id), nil)
}

func agentNotFound(id string) *Error {
	return newError(ErrorCodeNotFound, fmt.Sprintf("agent %s not found", id), nil)
}

func invalidTransition(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidTransition, fmt.Sprintf(format, args...), nil)
}
