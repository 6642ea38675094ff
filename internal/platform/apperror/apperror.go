// Package apperror defines the error taxonomy shared by the ledger components.
//
// Every precondition failure is reported as an *Error carrying a Kind so that
// callers can branch with errors.Is against the package sentinels, and the
// HTTP layer can map it to a status code without inspecting messages.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindPaused
	KindInvalidArgument
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindPaused:
		return "paused"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a classified error with the violated precondition as its message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind. This lets callers
// match any error of a kind against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrPaused          = &Error{Kind: KindPaused, Message: "Pausable: paused"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
)

func Unauthorized(msg string) error    { return &Error{Kind: KindUnauthorized, Message: msg} }
func InvalidArgument(msg string) error { return &Error{Kind: KindInvalidArgument, Message: msg} }
func Conflict(msg string) error        { return &Error{Kind: KindConflict, Message: msg} }
func NotFound(msg string) error        { return &Error{Kind: KindNotFound, Message: msg} }

// Paused returns the error reported by every mutation while the system is halted.
func Paused() error { return &Error{Kind: KindPaused, Message: ErrPaused.Message} }

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned by the API layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusForbidden
	case KindPaused:
		return http.StatusServiceUnavailable
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
