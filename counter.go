package guestgate

import (
	"context"
	"time"
)

// CounterStore is the atomic, window-scoped counter backend every limit is
// built on. Implementations must be safe for concurrent use, and when the
// store is shared by several processes the atomicity must hold across all
// of them.
type CounterStore interface {
	// Increment adds delta to the counter for key in the window containing
	// now, but only if the result stays within max. The test and the write
	// are one atomic step. On success it returns the new value and true; when
	// the increment would exceed max nothing is written and it returns the
	// current value and false.
	Increment(ctx context.Context, key string, w Window, now time.Time, delta, max int64) (int64, bool, error)

	// AddToSet adds member to the set for setKey in the window containing
	// now and returns the number of distinct members after the add.
	AddToSet(ctx context.Context, setKey, member string, w Window, now time.Time) (int64, error)

	// PeekDistinctCount returns the distinct member count of a set without
	// modifying it.
	PeekDistinctCount(ctx context.Context, setKey string, w Window, now time.Time) (int64, error)

	// Peek returns the current counter value without modifying it.
	Peek(ctx context.Context, key string, w Window, now time.Time) (int64, error)
}

// Sweeper is implemented by stores that need expired counters removed
// explicitly rather than by the backend itself.
type Sweeper interface {
	// Sweep deletes counters and set members that expired before now and
	// returns how many entries were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Logical counter keys. Stores prepend their own prefix and append the
// window bucket.
const (
	KeyCost = "cost"
)

// IPKey returns the logical counter key for a client IP.
func IPKey(ip string) string { return "ip:" + ip }

// FingerprintSetKey returns the logical set key holding the fingerprints
// seen from ip.
func FingerprintSetKey(ip string) string { return "fpset:" + ip }

// FingerprintKey returns the logical counter key for a device fingerprint.
func FingerprintKey(fingerprint string) string { return "fp:" + fingerprint }
