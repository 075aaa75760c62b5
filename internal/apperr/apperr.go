// Package apperr defines the domain error taxonomy shared by the services and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain failure.
type Kind string

const (
	KindDuplicate          Kind = "Duplicate"
	KindNotFound           Kind = "NotFound"
	KindOutOfStock         Kind = "OutOfStock"
	KindInvalidInput       Kind = "InvalidInput"
	KindInvalidToken       Kind = "InvalidToken"
	KindEmptyResult        Kind = "EmptyResult"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindUnverified         Kind = "Unverified"
	KindUnauthorized       Kind = "Unauthorized"
	KindRateLimited        Kind = "RateLimited"
	KindConflict           Kind = "Conflict"
	KindInternal           Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindDuplicate:          http.StatusConflict,
	KindNotFound:           http.StatusNotFound,
	KindOutOfStock:         http.StatusBadRequest,
	KindInvalidInput:       http.StatusBadRequest,
	KindInvalidToken:       http.StatusBadRequest,
	KindEmptyResult:        http.StatusNotFound,
	KindInvalidCredentials: http.StatusUnauthorized,
	KindUnverified:         http.StatusUnauthorized,
	KindUnauthorized:       http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindConflict:           http.StatusConflict,
	KindInternal:           http.StatusInternalServerError,
}

// Error is a domain failure with a machine-readable code.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the kind maps to.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind that keeps cause in the chain.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func Duplicate(code, message string) *Error {
	return New(KindDuplicate, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func OutOfStock(code, message string) *Error {
	return New(KindOutOfStock, code, message)
}

func InvalidInput(code, message string) *Error {
	return New(KindInvalidInput, code, message)
}

func InvalidToken(message string, cause error) *Error {
	return Wrap(KindInvalidToken, "INVALID_TOKEN", message, cause)
}

func EmptyResult(code, message string) *Error {
	return New(KindEmptyResult, code, message)
}

func InvalidCredentials() *Error {
	return New(KindInvalidCredentials, "INVALID_CREDENTIALS", "incorrect username or password")
}

func Unverified() *Error {
	return New(KindUnverified, "ACCOUNT_UNVERIFIED", "account email is not verified")
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, "UNAUTHORIZED", message)
}

func RateLimited() *Error {
	return New(KindRateLimited, "RATE_LIMITED", "too many requests, slow down")
}

// Conflict reports state that changed underneath the request; retrying may succeed.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Internal hides cause from the caller; the message stays generic.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "INTERNAL_ERROR", "internal server error", cause)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// From converts any error into an *Error, treating unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
