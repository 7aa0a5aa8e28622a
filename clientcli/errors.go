package clientcli

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Errors for profile operations.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoProfiles      = errors.New("no profiles configured")
	ErrProfileExists   = errors.New("profile already exists")
)

// Errors for configuration validation.
var (
	ErrCredentialRequired = errors.New("username and password are required")
	ErrSecretRequired     = errors.New("secret is required to presign")
	ErrConfigRequired     = errors.New("config is required")
)

// Errors for input validation.
var (
	ErrNoPaths   = errors.New("no paths provided")
	ErrEmptyPath = errors.New("path is required")
)

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	// Code and Message come from the JSON error body when there is one.
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return "server error: " + strconv.Itoa(e.StatusCode) + " " + e.Code + ": " + e.Message
	}
	return "server error: " + strconv.Itoa(e.StatusCode) + " - " + e.Body
}

// Is reports whether target matches this error.
// It matches if target is an *APIError with the same StatusCode.
func (e *APIError) Is(target error) bool {
	var t *APIError
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return t.StatusCode == e.StatusCode
}

// IsNotFound returns true if the error is a 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Sentinel errors for common API error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrNotFound is returned when the requested resource does not exist (404).
	ErrNotFound = &APIError{StatusCode: http.StatusNotFound}

	// ErrUnauthorized is returned when authentication fails (401).
	ErrUnauthorized = &APIError{StatusCode: http.StatusUnauthorized}

	// ErrForbidden is returned when the server has no credentials configured
	// or a capability does not cover the destination (403).
	ErrForbidden = &APIError{StatusCode: http.StatusForbidden}

	// ErrConflict is returned when a parent directory is missing (409).
	ErrConflict = &APIError{StatusCode: http.StatusConflict}

	// ErrPreconditionFailed is returned when a destination exists and
	// overwrite was refused, or an If-* condition failed (412).
	ErrPreconditionFailed = &APIError{StatusCode: http.StatusPreconditionFailed}
)

// parseServerError builds an APIError, decoding the JSON error body when
// the server sent one.
func parseServerError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: string(body)}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	}

	return apiErr
}
