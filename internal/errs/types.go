package errs

import (
	"errors"
)

type ErrorMessage struct {
	Message string
}

func (e *ErrorMessage) Error() string { return e.Message }

type NotFoundError struct {
	ErrorMessage
}

type AlreadyExistsError struct {
	ErrorMessage
}

type ValidationError struct {
	ErrorMessage
}

type DatabaseError struct {
	ErrorMessage
	Operation string
}

// AuthError means the provider rejected the access token or the consent was
// revoked. Never retried: a stale token cannot become valid through retry.
type AuthError struct {
	ErrorMessage
	Provider string
}

// RateLimitedError means the provider throttled the call. Retryable.
type RateLimitedError struct {
	ErrorMessage
	Provider string
}

// TransientError covers provider timeouts, 5xx and open circuit breakers.
// Retryable.
type TransientError struct {
	ErrorMessage
	Provider string
}

// ProviderError is a non-transient provider failure that is neither an auth
// nor a rate-limit problem. Retryable with bounded attempts.
type ProviderError struct {
	ErrorMessage
	Provider string
	Code     string
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{ErrorMessage: ErrorMessage{Message: message}}
}

func NewAlreadyExistsError(message string) *AlreadyExistsError {
	return &AlreadyExistsError{ErrorMessage: ErrorMessage{Message: message}}
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{ErrorMessage: ErrorMessage{Message: message}}
}

func NewDatabaseError(operation, message string) *DatabaseError {
	return &DatabaseError{ErrorMessage: ErrorMessage{Message: message}, Operation: operation}
}

func NewAuthError(provider, message string) *AuthError {
	return &AuthError{ErrorMessage: ErrorMessage{Message: message}, Provider: provider}
}

func NewRateLimitedError(provider, message string) *RateLimitedError {
	return &RateLimitedError{ErrorMessage: ErrorMessage{Message: message}, Provider: provider}
}

func NewTransientError(provider, message string) *TransientError {
	return &TransientError{ErrorMessage: ErrorMessage{Message: message}, Provider: provider}
}

func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{ErrorMessage: ErrorMessage{Message: message}, Provider: provider, Code: code}
}

// IsTerminal reports whether err must not be retried: validation failures,
// missing records and provider auth failures only resolve through user action.
func IsTerminal(err error) bool {
	var nf *NotFoundError
	var ve *ValidationError
	var ae *AuthError
	return errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &ae)
}

// IsAuth reports whether err is a provider authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
