package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeBadInput represents input validation errors
	ErrorTypeBadInput ErrorType = "bad_input"

	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeForbidden represents authorization errors
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeFeatureDisabled represents requests against a disabled AI feature
	ErrorTypeFeatureDisabled ErrorType = "feature_disabled"

	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeProviderUnavailable represents AI provider transport/auth failures
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"

	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeAllProvidersFailed represents exhaustion of the provider chain
	ErrorTypeAllProvidersFailed ErrorType = "all_providers_failed"

	// ErrorTypeCrypto represents credential encryption/decryption failures
	ErrorTypeCrypto ErrorType = "crypto_failure"

	// ErrorTypeInvalidResponse represents unparseable provider responses
	ErrorTypeInvalidResponse ErrorType = "invalid_response"

	// ErrorTypeCacheUnavailable represents cache backing-store failures
	ErrorTypeCacheUnavailable ErrorType = "cache_unavailable"

	// ErrorTypeInternal represents internal server errors
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents an application error with additional context
type AppError struct {
	Type       ErrorType         `json:"type"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Err        error             `json:"-"`
	Retryable  bool              `json:"retryable"`
	StatusCode int               `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error instances
var (
	ErrBadInput = &AppError{
		Type:       ErrorTypeBadInput,
		Code:       "BAD_INPUT",
		Message:    "Invalid input",
		StatusCode: http.StatusBadRequest,
	}

	ErrNotFound = &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrForbidden = &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		StatusCode: http.StatusForbidden,
	}

	ErrFeatureDisabled = &AppError{
		Type:       ErrorTypeFeatureDisabled,
		Code:       "FEATURE_DISABLED",
		Message:    "Feature is disabled",
		StatusCode: http.StatusForbidden,
	}

	ErrRateLimit = &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded",
		StatusCode: http.StatusTooManyRequests,
		Retryable:  true,
	}

	ErrProviderUnavailable = &AppError{
		Type:       ErrorTypeProviderUnavailable,
		Code:       "PROVIDER_UNAVAILABLE",
		Message:    "AI provider unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrTimeout = &AppError{
		Type:       ErrorTypeTimeout,
		Code:       "TIMEOUT",
		Message:    "Request timeout",
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
	}

	ErrAllProvidersFailed = &AppError{
		Type:       ErrorTypeAllProvidersFailed,
		Code:       "ALL_PROVIDERS_FAILED",
		Message:    "All AI providers failed",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrCryptoFailure = &AppError{
		Type:       ErrorTypeCrypto,
		Code:       "CRYPTO_FAILURE",
		Message:    "Credential encryption failure",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidResponse = &AppError{
		Type:       ErrorTypeInvalidResponse,
		Code:       "INVALID_RESPONSE",
		Message:    "Invalid provider response",
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
	}

	ErrCacheUnavailable = &AppError{
		Type:       ErrorTypeCacheUnavailable,
		Code:       "CACHE_UNAVAILABLE",
		Message:    "Cache unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrInternal = &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    "An internal server error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		StatusCode: statusFor(errType),
	}
}

// BadInput creates a BAD_INPUT error with a custom message
func BadInput(message string) *AppError {
	return New(ErrorTypeBadInput, "BAD_INPUT", message)
}

// NotFound creates a NOT_FOUND error naming the missing resource
func NotFound(resource string) *AppError {
	return New(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

// Forbidden creates a FORBIDDEN error with a custom message
func Forbidden(message string) *AppError {
	return New(ErrorTypeForbidden, "FORBIDDEN", message)
}

// Crypto creates a CRYPTO_FAILURE error wrapping the cause
func Crypto(message string, err error) *AppError {
	e := New(ErrorTypeCrypto, "CRYPTO_FAILURE", message)
	e.Err = err
	return e
}

// Internal creates an INTERNAL_ERROR wrapping the cause
func Internal(message string, err error) *AppError {
	e := New(ErrorTypeInternal, "INTERNAL_ERROR", message)
	e.Err = err
	return e
}

// Wrap attaches a cause to a copy of the given sentinel error
func Wrap(base *AppError, err error) *AppError {
	clone := *base
	clone.Err = err
	return &clone
}

func statusFor(errType ErrorType) int {
	switch errType {
	case ErrorTypeBadInput:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeForbidden, ErrorTypeFeatureDisabled:
		return http.StatusForbidden
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeProviderUnavailable, ErrorTypeAllProvidersFailed, ErrorTypeCacheUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetType returns the error type
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.StatusCode != 0 {
			return appErr.StatusCode
		}
	}
	return http.StatusInternalServerError
}
