// Package apperr defines Doorway's error taxonomy (spec.md §7) and its
// mapping onto HTTP status codes and the {error, code} JSON envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the nine error categories below: the categories named in
// spec.md §7, with Forbidden (403) kept apart from Auth (401).
type Kind string

const (
	InvalidRequest Kind = "INVALID_REQUEST"
	NotFound       Kind = "NOT_FOUND"
	Auth           Kind = "AUTH"
	Forbidden      Kind = "FORBIDDEN"
	Backend        Kind = "BACKEND"
	Timeout        Kind = "TIMEOUT"
	Unavailable    Kind = "UNAVAILABLE"
	Conflict       Kind = "CONFLICT"
	Internal       Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	InvalidRequest: http.StatusBadRequest,
	NotFound:       http.StatusNotFound,
	Auth:           http.StatusUnauthorized,
	Forbidden:      http.StatusForbidden,
	Backend:        http.StatusBadGateway,
	Timeout:        http.StatusGatewayTimeout,
	Unavailable:    http.StatusServiceUnavailable,
	Conflict:       http.StatusConflict,
	Internal:       http.StatusInternalServerError,
}

// Error is Doorway's application error: a Kind, a caller-facing code
// (distinct from Kind where the spec names a specific diagnostic code like
// NOT_IN_PROJECTION or INVALID_ADDRESS), a message, and an optional wrapped
// cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code the Kind maps to.
func (e *Error) HTTPStatus() int {
	if e.Kind == InvalidRequest && e.Code == "RANGE_NOT_SATISFIABLE" {
		return http.StatusRequestedRangeNotSatisfiable
	}
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with a code equal to its Kind (the common case).
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

// NewCode builds an Error with an explicit diagnostic code distinct from
// its Kind (e.g. NOT_IN_PROJECTION, INVALID_ADDRESS).
func NewCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a Kind/code to an underlying error, preserving it for
// errors.Is/As and logging.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusAndCode returns the HTTP status and code to use for an arbitrary
// error, defaulting unrecognised errors to 500/INTERNAL.
func StatusAndCode(err error) (int, string, string) {
	if e, ok := As(err); ok {
		return e.HTTPStatus(), e.Code, e.Message
	}
	return http.StatusInternalServerError, string(Internal), err.Error()
}
