package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so wrapped instances
// still satisfy errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var (
	ErrValidation      = New(http.StatusBadRequest, "validation_error", errors.New("Missing required fields"))
	ErrUnauthorized    = New(http.StatusUnauthorized, "unauthorized", errors.New("Unauthorized"))
	ErrForbidden       = New(http.StatusForbidden, "forbidden", errors.New("Forbidden"))
	ErrSessionNotFound = New(http.StatusNotFound, "session_not_found", errors.New("Session not found"))
	ErrProvider        = New(http.StatusBadGateway, "provider_error", errors.New("Assistant is unavailable"))
	ErrPersistence     = New(http.StatusInternalServerError, "persistence_error", errors.New("Failed to save conversation"))
)

// Wrap keeps kind's status and code but carries err as the cause.
func Wrap(kind *Error, err error) *Error {
	return &Error{Status: kind.Status, Code: kind.Code, Err: fmt.Errorf("%s: %w", kind.Err, err)}
}

// Validation returns a 400 with a caller-facing message.
func Validation(msg string) *Error {
	return &Error{Status: ErrValidation.Status, Code: ErrValidation.Code, Err: errors.New(msg)}
}

// StatusOf maps err to an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Public returns the message safe to show callers. Unclassified errors
// collapse to a generic message.
func Public(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal server error"
	}
	switch e.Code {
	case ErrPersistence.Code:
		return ErrPersistence.Err.Error()
	case ErrProvider.Code:
		return ErrProvider.Err.Error()
	}
	return e.Error()
}
