// Package errors defines the sentinel errors shared by stores and transports
// and the AppError envelope that HTTP handlers render.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by repositories, services and transports.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

// class binds a sentinel to its wire code and HTTP status. Order matters for
// errors wrapping more than one sentinel: the first match wins.
type class struct {
	sentinel error
	code     string
	status   int
}

var classes = []class{
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrAlreadyExists, "ALREADY_EXISTS", http.StatusConflict},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests},
	{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
	{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
}

// AppError is a structured error carrying the HTTP status and a stable code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an explicit code and status.
func New(code string, status int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// fromSentinel builds an AppError using the registered code and status of sentinel.
func fromSentinel(sentinel error, message string) *AppError {
	code, status := Describe(sentinel)
	return &AppError{Code: code, Message: message, Status: status, Err: sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return fromSentinel(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError { return fromSentinel(ErrInvalidInput, message) }

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError { return fromSentinel(ErrUnauthorized, message) }

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError { return fromSentinel(ErrForbidden, message) }

// Conflict creates a 409 error.
func Conflict(message string) *AppError { return fromSentinel(ErrConflict, message) }

// TooManyRequests creates a 429 error.
func TooManyRequests(message string) *AppError { return fromSentinel(ErrRateLimited, message) }

// Internal creates a 500 error. The wrapped cause is never rendered to clients.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Describe returns the wire code and HTTP status for err. AppErrors report
// their own; bare sentinels use the registry; anything else is internal.
func Describe(err error) (code string, status int) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Status
	}
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c.code, c.status
		}
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	_, status := Describe(err)
	return status
}
