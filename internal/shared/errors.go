package shared

import "errors"

// Error categories shared across modules. Module errors wrap one of these so
// transport layers can map them without importing the module.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrUnprocessable indicates a well formed request that breaks a business rule.
	ErrUnprocessable = errors.New("unprocessable")
	// ErrUnavailable indicates a dependency could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
