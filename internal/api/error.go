package api

import "fmt"

type HTTPError struct {
	StatusCode int
	Message    string
	ErrorLog   error
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.ErrorLog
}

type ApiError struct {
	Error string `json:"message"`
}

func NewHTTPError(status int, message string, format string, args ...any) *HTTPError {
	return &HTTPError{StatusCode: status, Message: message, ErrorLog: fmt.Errorf(format, args...)}
}
