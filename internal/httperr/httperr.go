package httperr

import (
	"errors"
	"net/http"
)

// Error carries the HTTP status an error is reported with.
type Error struct {
	Err    error
	Status int
}

func (e *Error) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Status)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Status == e.Status && errors.Is(e.Err, t.Err)
}

func New(err error, status int) error {
	return &Error{
		Err:    err,
		Status: status,
	}
}

func NotFound(err error) error {
	return New(err, http.StatusNotFound)
}

func BadRequest(err error) error {
	return New(err, http.StatusBadRequest)
}

func Unauthorized(err error) error {
	return New(err, http.StatusUnauthorized)
}

func Conflict(err error) error {
	return New(err, http.StatusConflict)
}

func RequestEntityTooLarge(err error) error {
	return New(err, http.StatusRequestEntityTooLarge)
}

func InternalServerError(err error) error {
	return New(err, http.StatusInternalServerError)
}

// Status returns the status attached to err, or 500.
func Status(err error) int {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}
