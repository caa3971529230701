package storage

import "errors"

// Error taxonomy shared by every adapter. Repositories pass these through
// untouched so callers can tell "nothing matched" from "someone else won the
// race" from "the backend is down" with errors.Is.
var (
	// ErrNotFound indicates a single-result read matched zero rows.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict indicates a creation raced another creator for the same
	// entity id.
	ErrConflict = errors.New("storage: conflict")

	// ErrStaleVersion indicates an update or delete was prepared against a
	// previous_version that no longer matches the live row.
	ErrStaleVersion = errors.New("storage: stale version")

	// ErrUnsupported indicates the active backend does not offer the
	// requested capability.
	ErrUnsupported = errors.New("storage: operation not supported by backend")

	// ErrUnavailable indicates the backend could not be reached or did not
	// complete the unit of work.
	ErrUnavailable = errors.New("storage: backend unavailable")
)
