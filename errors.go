package guestgate

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	ErrInvalidSignals   = errors.New("guestgate: invalid request signals")
	ErrStoreUnavailable = errors.New("guestgate: counter store unavailable")
	ErrInvalidConfig    = errors.New("guestgate: invalid config")
)

// IsStoreUnavailable reports whether err means the counter store could not
// give an authoritative answer. Deadline and cancellation errors count,
// since the store call did not complete.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
