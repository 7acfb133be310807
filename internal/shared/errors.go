package shared

import "errors"

// Error kinds surfaced across the HTTP boundary. Domain errors wrap one of
// these so callers can dispatch with errors.Is.
var (
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates an unknown item, order or order line.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness collision (description, ref number, idempotency key).
	ErrConflict = errors.New("conflict")
	// ErrStore indicates a backing store failure.
	ErrStore = errors.New("store failure")
)

// Kind returns the short machine readable name of the error kind wrapped by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "store"
	}
}
