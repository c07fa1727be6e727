package account

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrConsentRequired   = errors.New("privacy consent required")
	ErrSessionExpired    = errors.New("registration session expired or invalid")
	ErrAlreadyRegistered = errors.New("account already registered")
	ErrNotPending        = errors.New("account not found or already active")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrTokenRevoked      = errors.New("token has been revoked")
)

// ValidationError reports a rejected registration field. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
