package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *AppError
		wantCode string
		wantHTTP int
	}{
		{"validation", ValidationError("check the form", nil), CodeValidationFailed, http.StatusUnprocessableEntity},
		{"conflict", ConflictError("e-mail already registered", cause), CodeConflict, http.StatusConflict},
		{"rate limited", RateLimitedError("slow down", nil), CodeRateLimited, http.StatusTooManyRequests},
		{"backend", BackendError("bad gateway", cause), CodeBackendError, http.StatusBadGateway},
		{"backend unavailable", BackendUnavailableError("down", cause), CodeBackendUnavailable, http.StatusServiceUnavailable},
		{"session expired", SessionExpiredError("log in again", cause), CodeSessionExpired, http.StatusUnauthorized},
		{"config", ConfigError("invalid configuration", cause), CodeConfigError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantHTTP, tt.err.HTTPCode)
			if tt.err.Cause != nil {
				assert.ErrorIs(t, tt.err, cause)
			}
		})
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("load configuration: %w", ConfigError("invalid configuration", errors.New("API_BASE_URL is required")))

	assert.True(t, IsType(err, CodeConfigError))
	assert.False(t, IsType(err, CodeBackendError))
	assert.False(t, IsType(errors.New("plain"), CodeConfigError))
	assert.Equal(t, "CONFIG_ERROR: invalid configuration (caused by: API_BASE_URL is required)", errors.Unwrap(err).Error())
}
