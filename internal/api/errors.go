package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx answer of the users backend.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseError(resp *response) *Error {
	apiErr := &Error{Status: resp.status}

	var payload errorPayload
	if err := json.Unmarshal(resp.body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	} else if text := strings.TrimSpace(string(resp.body)); text != "" && len(text) <= 256 {
		apiErr.Message = text
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.status)
	}
	return apiErr
}

// StatusOf returns the backend status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUserAlreadyExists reports whether err is the backend refusing a duplicate e-mail.
func IsUserAlreadyExists(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == http.StatusConflict {
		return true
	}
	return strings.Contains(apiErr.Message, "User") && strings.Contains(apiErr.Message, "already exists")
}

// IsClientError reports whether the backend refused the request itself, as opposed
// to failing or being unreachable.
func IsClientError(err error) bool {
	status := StatusOf(err)
	return status >= 400 && status < 500
}
