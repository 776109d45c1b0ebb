package schema

import "errors"

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned by Locker.Acquire when another holder owns the key.
	ErrLockHeld = errors.New("lock held")

	// ErrInvalidEvent is returned when an appended event fails validation.
	ErrInvalidEvent = errors.New("invalid event")
)
