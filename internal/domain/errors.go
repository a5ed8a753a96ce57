package domain

import (
	"errors"
	"fmt"

	apperrors "github.com/utafrali/authority/pkg/errors"
)

// Kind classifies every failure the lifecycle engine returns.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindDuplicateUsername       Kind = "duplicate_username"
	KindDuplicateEmail          Kind = "duplicate_email"
	KindInvalidCredentials      Kind = "invalid_credentials"
	KindEmailNotVerified        Kind = "email_not_verified"
	KindInvalidOrExpiredToken   Kind = "invalid_or_expired_token"
	KindVerificationUnavailable Kind = "verification_unavailable"
	KindUnauthenticated         Kind = "unauthenticated"
	KindInvalidToken            Kind = "invalid_token"
	KindNotFound                Kind = "not_found"
	KindInternal                Kind = "internal"
)

// Store-level uniqueness violations.
var (
	ErrUsernameTaken = fmt.Errorf("username taken: %w", apperrors.ErrAlreadyExists)
	ErrEmailTaken    = fmt.Errorf("email taken: %w", apperrors.ErrAlreadyExists)
)

// Error is the error type returned by lifecycle operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for any error that is not
// an *Error. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
