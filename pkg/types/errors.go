package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeInvalidState     ErrorType = "invalid_state"
	ErrorTypePermissionDenied ErrorType = "permission_denied"
	ErrorTypeInternal         ErrorType = "internal"
)

// SharingError represents a structured error in the data sharing core
type SharingError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *SharingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *SharingError) Unwrap() error {
	return e.Cause
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(code, message string) *SharingError {
	return &SharingError{
		Type:    ErrorTypeUnauthorized,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *SharingError {
	return &SharingError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *SharingError {
	return &SharingError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(code, message string) *SharingError {
	return &SharingError{
		Type:    ErrorTypeInvalidState,
		Code:    code,
		Message: message,
	}
}

// NewPermissionDeniedError creates a new permission denied error
func NewPermissionDeniedError(code, message string) *SharingError {
	return &SharingError{
		Type:    ErrorTypePermissionDenied,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *SharingError {
	return &SharingError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorTypeOf extracts the ErrorType of err, or ErrorTypeInternal for
// errors that are not SharingErrors.
func ErrorTypeOf(err error) ErrorType {
	var se *SharingError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// Common error codes
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeNotConsentOwner   = "NOT_CONSENT_OWNER"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeTokenInvalid      = "TOKEN_INVALID"
	ErrCodeDownloadExhausted = "DOWNLOAD_EXHAUSTED"
)
