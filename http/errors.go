package http

import (
	"errors"
	"net/http"

	"github.com/sagarc03/stowdrive"
)

// errorMapping ties a sentinel error to the response it produces.
type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings is checked in order, so more specific sentinels come first.
var errorMappings = []errorMapping{
	{stowdrive.ErrNoSuchUpload, http.StatusNotFound, "no_such_upload", "Upload not found"},
	{stowdrive.ErrNotFound, http.StatusNotFound, "not_found", "Object not found"},
	{stowdrive.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "Invalid input"},
	{stowdrive.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Authentication required"},
	{stowdrive.ErrForbidden, http.StatusForbidden, "forbidden", "Access denied"},
	{stowdrive.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed"},
	{stowdrive.ErrConflict, http.StatusConflict, "conflict", "Parent directory does not exist"},
	{stowdrive.ErrPreconditionFailed, http.StatusPreconditionFailed, "precondition_failed", "Precondition failed"},
	{stowdrive.ErrRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "Requested range not satisfiable"},
	{stowdrive.ErrUpstream, http.StatusBadGateway, "upstream_error", "Upstream request failed"},
}

func lookupError(err error) (errorMapping, bool) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errorMapping{status: http.StatusRequestEntityTooLarge, code: "too_large", message: "Request body too large"}, true
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// StatusFor returns the HTTP status HandleError would write for err.
func StatusFor(err error) int {
	if m, ok := lookupError(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}
