// Package errors is the error taxonomy of the web layer. Each AppError carries the
// status the page is answered with and the message the operator sees.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	HTTPCode int    `json:"-"`
	Cause    error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeConflict         = "CONFLICT"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRateLimited      = "RATE_LIMITED"
	CodeConfigError      = "CONFIG_ERROR"

	// Users backend
	CodeBackendError       = "BACKEND_ERROR"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"

	// Session storage
	CodeCacheError       = "CACHE_ERROR"
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeSessionExpired   = "SESSION_EXPIRED"
)

func newError(code string, status int, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, HTTPCode: status, Cause: cause}
}

// ValidationError is a form that failed its schema. The page is rendered again.
func ValidationError(message string, cause error) *AppError {
	return newError(CodeValidationFailed, http.StatusUnprocessableEntity, message, cause)
}

func NotFoundError(message string, cause error) *AppError {
	return newError(CodeNotFound, http.StatusNotFound, message, cause)
}

func UnauthorizedError(message string, cause error) *AppError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, cause)
}

func ConflictError(message string, cause error) *AppError {
	return newError(CodeConflict, http.StatusConflict, message, cause)
}

// InvalidRequestError is a request the backend refused with a 4xx answer.
func InvalidRequestError(message string, cause error) *AppError {
	return newError(CodeInvalidRequest, http.StatusBadRequest, message, cause)
}

func RateLimitedError(message string, cause error) *AppError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, message, cause)
}

func ConfigError(message string, cause error) *AppError {
	return newError(CodeConfigError, http.StatusInternalServerError, message, cause)
}

func BackendError(message string, cause error) *AppError {
	return newError(CodeBackendError, http.StatusBadGateway, message, cause)
}

func BackendUnavailableError(message string, cause error) *AppError {
	return newError(CodeBackendUnavailable, http.StatusServiceUnavailable, message, cause)
}

func CacheError(message string, cause error) *AppError {
	return newError(CodeCacheError, http.StatusInternalServerError, message, cause)
}

func CacheUnavailableError(message string, cause error) *AppError {
	return newError(CodeCacheUnavailable, http.StatusServiceUnavailable, message, cause)
}

// SessionExpiredError ends the operator's sign-in and sends them back to /login.
func SessionExpiredError(message string, cause error) *AppError {
	return newError(CodeSessionExpired, http.StatusUnauthorized, message, cause)
}

// IsType reports whether err wraps an AppError with code.
func IsType(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
