package lock

import "errors"

// Lock-related errors.
var (
	// ErrLockUnavailable is returned when another operation holds the
	// account's lock. Callers surface this as "try again later".
	ErrLockUnavailable = errors.New("account lock unavailable")
)
