package stowdrive

import "errors"

var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when an internal error occurs
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned when authentication fails
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when no authentication method is configured
	// or a capability does not grant the requested access
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a parent directory is missing
	ErrConflict = errors.New("conflict")
	// ErrPreconditionFailed is returned when a conditional request fails
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrMethodNotAllowed is returned when the target of MKCOL already exists
	ErrMethodNotAllowed = errors.New("method not allowed")
	// ErrRangeNotSatisfiable is returned when a byte range lies outside the object
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrNoSuchUpload is returned for unknown multipart upload ids
	ErrNoSuchUpload = errors.New("no such upload")
	// ErrUpstream is returned when a dependency (store, resizer) misbehaves
	ErrUpstream = errors.New("upstream error")
)
