// Package errs defines the error kinds shared across the engine and its
// service boundary. Callers classify failures with errors.Is and wrap with
// fmt.Errorf("%w") to add context.
package errs

import "errors"

var (
	// ErrNotFound marks a missing execution, approval, form trigger or flow.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks an invalid graph, unknown node type at schedule
	// time, or missing required input.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied marks a caller without access to a flow or
	// credential.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStateConflict marks an operation that is illegal in the current
	// state, e.g. cancelling a completed execution.
	ErrStateConflict = errors.New("state conflict")

	// ErrExpired marks an approval or form past its expiry.
	ErrExpired = errors.New("expired")
)
