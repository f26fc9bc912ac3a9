package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a DomainError for transport mapping and client handling.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindInvalidState  ErrorKind = "invalid_state_transition"
	KindProvider      ErrorKind = "provider_error"
	KindConflict      ErrorKind = "conflict"
)

// DomainError is the tagged error type shared by every component. Messages are
// stable per kind so clients can switch on them.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Cause   error

	// Retryable is meaningful only for KindProvider.
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is lets errors.Is match on kind alone.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Kind == e.Kind && (de.Message == "" || de.Message == e.Message)
}

// NewValidationError reports malformed or unacceptable input.
func NewValidationError(format string, args ...any) *DomainError {
	return &DomainError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAuthorizationError reports that the requester is not the required party.
func NewAuthorizationError(message string) *DomainError {
	return &DomainError{Kind: KindAuthorization, Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewInvalidStateError reports a transition outside the allowed table.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{Kind: KindInvalidState, Message: fmt.Sprintf("cannot transition from %s to %s", from, to)}
}

// NewConflictError reports an invariant violation such as a unique-key clash or
// a conflicting concurrent update.
func NewConflictError(message string) *DomainError {
	return &DomainError{Kind: KindConflict, Message: message}
}

// NewProviderError wraps a failed outbound payment-provider call.
func NewProviderError(message string, retryable bool, cause error) *DomainError {
	return &DomainError{Kind: KindProvider, Message: message, Retryable: retryable, Cause: cause}
}

// KindOf extracts the kind of a DomainError, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind == KindProvider && de.Retryable
}
