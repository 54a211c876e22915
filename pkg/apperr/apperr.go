// Package apperr is the error taxonomy shared by the pipeline, tools and
// HTTP handlers.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindConfiguration  Kind = "configuration"
	KindGeneration     Kind = "generation"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// Error carries a Kind, a caller-facing message and an optional field name.
type Error struct {
	Kind  Kind
	Msg   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Unauthenticated means no usable identity was presented.
func Unauthenticated(format string, args ...any) error {
	return newf(KindAuthentication, format, args...)
}

// Forbidden hides the reason; callers log the detail themselves.
func Forbidden() error {
	return &Error{Kind: KindAuthorization, Msg: "not authorized"}
}

// NotFound reports a missing thread, tool or entity.
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// Invalid reports a malformed argument; field may be empty.
func Invalid(field, format string, args ...any) error {
	e := newf(KindValidation, format, args...)
	e.Field = field
	return e
}

// Misconfigured reports a deployment or wiring problem.
func Misconfigured(format string, args ...any) error {
	return newf(KindConfiguration, format, args...)
}

// Unavailable reports back-pressure such as a full queue.
func Unavailable(err error, msg string) error {
	return &Error{Kind: KindUnavailable, Msg: msg, Err: err}
}

// Generation wraps a model-call failure.
func Generation(err error) error {
	return &Error{Kind: KindGeneration, Msg: "generation failed: " + errMsg(err), Err: err}
}

func errMsg(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// FieldOf returns the offending field for validation errors.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusFailedDependency
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message safe to show a caller. Internal errors are
// collapsed to a generic message.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
