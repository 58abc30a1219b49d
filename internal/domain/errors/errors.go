// Package errors provides domain-specific error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for domain errors.
const (
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeInvalidTransition       = "INVALID_TRANSITION"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeInternal                = "INTERNAL_ERROR"
	ErrCodeConflict                = "CONFLICT"
	ErrCodeCapacityExceeded        = "CAPACITY_EXCEEDED"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodePersistence             = "PERSISTENCE_FAILURE"
	ErrCodeTimeout                 = "TIMEOUT"
)

// DomainError represents a domain-specific error.
type DomainError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, identifier string) *DomainError {
	return &DomainError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Details:    identifier,
		HTTPStatus: http.StatusNotFound,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, details string) *DomainError {
	return &DomainError{
		Code:       ErrCodeValidation,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidTransitionError reports a status change that is not an edge of the
// conversation lifecycle graph. No state is changed.
func NewInvalidTransitionError(operation, from string) *DomainError {
	return &DomainError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("%s is not allowed", operation),
		Details:    fmt.Sprintf("current status %s", from),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewUnauthorizedError creates a new unauthorized error.
func NewUnauthorizedError(message string) *DomainError {
	return &DomainError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *DomainError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &DomainError{
		Code:       ErrCodeInternal,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, details string) *DomainError {
	return &DomainError{
		Code:       ErrCodeConflict,
		Message:    message,
		Details:    details,
		HTTPStatus: http.StatusConflict,
	}
}

// NewCapacityExceededError reports that an agent has no free chat slot.
func NewCapacityExceededError(agentID string) *DomainError {
	return &DomainError{
		Code:       ErrCodeCapacityExceeded,
		Message:    "agent has no spare capacity",
		Details:    agentID,
		HTTPStatus: http.StatusConflict,
	}
}

// NewCollaboratorUnavailableError creates an error for a failed best-effort collaborator.
func NewCollaboratorUnavailableError(collaborator string, err error) *DomainError {
	return &DomainError{
		Code:       ErrCodeCollaboratorUnavailable,
		Message:    fmt.Sprintf("%s is unavailable", collaborator),
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewPersistenceError wraps a failed durable read or write.
func NewPersistenceError(operation string, err error) *DomainError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &DomainError{
		Code:       ErrCodePersistence,
		Message:    fmt.Sprintf("failed to %s", operation),
		Details:    details,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(operation string) *DomainError {
	return &DomainError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// IsDomainError checks if the error is a domain error.
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}

// GetDomainError extracts the domain error from an error.
func GetDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	domainErr, ok := GetDomainError(err)
	return ok && domainErr.Code == code
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidationError reports validation and invalid-transition errors alike.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation) || hasCode(err, ErrCodeInvalidTransition)
}

// IsInvalidTransition checks if the error is an invalid transition error.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsConflict checks if the error is a version conflict.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsCapacityExceeded checks if the error is a capacity error.
func IsCapacityExceeded(err error) bool {
	return hasCode(err, ErrCodeCapacityExceeded)
}

// IsPersistenceFailure checks if the error is a persistence failure.
func IsPersistenceFailure(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsUnauthorized checks if the error is an unauthorized error.
func IsUnauthorized(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}
