package models

import (
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a gateway error
type ErrorKind string

const (
	// ErrorKindNoCredential means no credential passed eligibility and the pool was empty (503)
	ErrorKindNoCredential ErrorKind = "no_available_credential"
	// ErrorKindAuthentication means the vendor rejected the credential's secret (401 upstream)
	ErrorKindAuthentication ErrorKind = "authentication_failed"
	// ErrorKindQuotaExhausted means the vendor reported balance/quota exhaustion for the credential
	ErrorKindQuotaExhausted ErrorKind = "quota_exhausted"
	// ErrorKindRateLimited means a transient 429 without an exhaustion signal
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindTransient means connection refused/timeout/5xx
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindRejected means a vendor-side content/validation rejection
	ErrorKindRejected ErrorKind = "rejected"
	// ErrorKindDecryption means a credential record's ciphertext is corrupted
	ErrorKindDecryption ErrorKind = "decryption_failed"
	// ErrorKindValidation represents request validation errors (400)
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindInternal represents internal server errors (500)
	ErrorKindInternal ErrorKind = "internal"
)

// GatewayError is the structured error every gateway operation surfaces
type GatewayError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the retry executor may re-attempt the call
func (e *GatewayError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *GatewayError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindAuthentication:
		return http.StatusBadGateway
	case ErrorKindRateLimited, ErrorKindQuotaExhausted:
		return http.StatusTooManyRequests
	case ErrorKindNoCredential:
		return http.StatusServiceUnavailable
	case ErrorKindTransient:
		return http.StatusBadGateway
	case ErrorKindRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewNoCredentialError creates an error for an empty or fully ineligible pool
func NewNoCredentialError(providerCode string) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindNoCredential,
		Message:    fmt.Sprintf("no available credential for provider %s", providerCode),
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  false,
	}
}

// NewAuthenticationError creates an error for a vendor-rejected secret
func NewAuthenticationError(providerCode string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindAuthentication,
		Message:    fmt.Sprintf("provider %s rejected credential", providerCode),
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewQuotaExhaustedError creates an error for vendor balance/quota exhaustion
func NewQuotaExhaustedError(providerCode string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindQuotaExhausted,
		Message:    fmt.Sprintf("provider %s quota exhausted", providerCode),
		StatusCode: http.StatusTooManyRequests,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewRateLimitedError creates an error for a transient 429
func NewRateLimitedError(providerCode string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindRateLimited,
		Message:    fmt.Sprintf("provider %s rate limited the request", providerCode),
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewTransientError creates an error for connection/timeout/5xx failures
func NewTransientError(providerCode string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindTransient,
		Message:    fmt.Sprintf("transient failure calling provider %s", providerCode),
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewRejectedError creates an error for a vendor content/validation rejection
func NewRejectedError(providerCode, reason string) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindRejected,
		Message:    fmt.Sprintf("provider %s rejected the request: %s", providerCode, reason),
		StatusCode: http.StatusUnprocessableEntity,
		Retryable:  false,
	}
}

// NewDecryptionError creates an error for a corrupted credential record.
// Deliberately distinct from authentication: the vendor never saw the call.
func NewDecryptionError(cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindDecryption,
		Message:    "credential secret could not be decrypted",
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       ErrorKindInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// SanitizeError strips internal causes before an error leaves the HTTP edge
func SanitizeError(err error) *GatewayError {
	if gwErr, ok := err.(*GatewayError); ok {
		return &GatewayError{
			Kind:       gwErr.Kind,
			Message:    gwErr.Message,
			StatusCode: gwErr.GetStatusCode(),
			Retryable:  gwErr.Retryable,
		}
	}
	return NewInternalError("an unexpected error occurred", err)
}
