package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class separates caller mistakes from infrastructure trouble. Only these two
// (plus not_found) ever reach a public entry point.
type Class string

const (
	ClassInput    Class = "input"
	ClassInfra    Class = "infra"
	ClassNotFound Class = "not_found"
	ClassInternal Class = "internal"
)

// ErrNotFound is the repository sentinel for a missing row.
var ErrNotFound = errors.New("not found")

type Error struct {
	Status int
	Code   string
	Class  Class
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Code != "" {
			return e.Code + ": " + e.Err.Error()
		}
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

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Class: classForStatus(status), Err: err}
}

func Input(code string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Code: code, Class: ClassInput, Err: err}
}

func Infra(code string, err error) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: code, Class: ClassInfra, Err: err}
}

// Forbidden is a caller mistake: the request is well formed but not allowed.
func Forbidden(code string, err error) *Error {
	return &Error{Status: http.StatusForbidden, Code: code, Class: ClassInput, Err: err}
}

func NotFound(code string, err error) *Error {
	return &Error{Status: http.StatusNotFound, Code: code, Class: ClassNotFound, Err: err}
}

// ClassOf reports the class of the outermost *Error in err's chain.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Class != "" {
		return e.Class
	}
	return ClassInternal
}

// IsRetryable is true for infrastructure errors; the caller may try again.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassInfra
}

func classForStatus(status int) Class {
	switch {
	case status == http.StatusNotFound:
		return ClassNotFound
	case status >= 400 && status < 500:
		return ClassInput
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return ClassInfra
	default:
		return ClassInternal
	}
}
