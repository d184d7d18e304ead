package guestgate

import "time"

// expiryGrace is added to every counter's physical expiry so that instances
// with slightly skewed clocks still find the counter for their bucket.
const expiryGrace = time.Minute

// Window is a UTC-aligned time bucket a counter is scoped to.
type Window int

const (
	WindowHour Window = iota + 1
	WindowDay
)

func (w Window) String() string {
	switch w {
	case WindowHour:
		return "hour"
	case WindowDay:
		return "day"
	default:
		return "unknown"
	}
}

// Start returns the start of the window containing t.
func (w Window) Start(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case WindowHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// End returns the exclusive end of the window containing t.
func (w Window) End(t time.Time) time.Time {
	start := w.Start(t)
	if w == WindowHour {
		return start.Add(time.Hour)
	}
	return start.AddDate(0, 0, 1)
}

// Bucket returns the bucket id of the window containing t,
// e.g. "h:2026101814" or "d:20261018".
func (w Window) Bucket(t time.Time) string {
	t = t.UTC()
	if w == WindowHour {
		return "h:" + t.Format("2006010215")
	}
	return "d:" + t.Format("20060102")
}

// ExpiresAt returns when a counter created at t in this window may be
// discarded by the store.
func (w Window) ExpiresAt(t time.Time) time.Time {
	return w.End(t).Add(expiryGrace)
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w == WindowHour || w == WindowDay
}

// BucketKey composes the physical store key for a logical key in the
// window containing t.
func BucketKey(key string, w Window, t time.Time) string {
	return key + ":" + w.Bucket(t)
}
