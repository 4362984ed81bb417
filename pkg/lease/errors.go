package lease

import "errors"

// Store errors. Adapters map backend failures onto these sentinels via
// errors wrapping; anything a store returns that matches none of them is a
// transient fault and safe to retry.
var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("lease record not found")

	// ErrAlreadyExists indicates a create raced with another writer.
	ErrAlreadyExists = errors.New("lease record already exists")

	// ErrConflict indicates the record's version token changed since it was
	// last observed and the conditional update was rejected.
	ErrConflict = errors.New("lease record version conflict")

	// ErrPermission indicates the caller is not allowed to access the record.
	// Not retryable.
	ErrPermission = errors.New("lease record access denied")

	// ErrMalformedRecord indicates the stored record cannot be interpreted.
	// Not retryable.
	ErrMalformedRecord = errors.New("malformed lease record")
)

// IsTransient reports whether err is a retryable store fault, i.e. none of
// the classified sentinels above. Timeouts and backend unavailability fall in
// this class; they say nothing about the state of the record.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range []error{ErrNotFound, ErrAlreadyExists, ErrConflict, ErrPermission, ErrMalformedRecord} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}
