package guestgate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthTracker is a circuit breaker over the counter store. While it is
// open the controller rejects with store_unavailable without touching the
// store, so an outage costs no round trips. It never admits on its own.
type HealthTracker struct {
	mu          sync.Mutex
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time   // when state transitioned to unhealthy
	trialing    bool        // a half-open trial is in flight
	now         func() time.Time
}

// NewHealthTracker creates a HealthTracker in the healthy state.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{now: time.Now}
}

// State returns the current breaker state.
func (h *HealthTracker) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.advanceLocked()
	return h.state
}

// Allow reports whether a store call may be attempted. In the half-open
// state only one trial is let through at a time.
func (h *HealthTracker) Allow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.advanceLocked()
	switch h.state {
	case HealthHealthy:
		return true
	case HealthHalfOpen:
		if h.trialing {
			return false
		}
		h.trialing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = HealthHealthy
	h.failures = h.failures[:0]
	h.trialing = false
}

// RecordFailure records a failed store call.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.trialing = false

	if h.state == HealthHalfOpen {
		h.state = HealthUnhealthy
		h.unhealthyAt = now
		return
	}
	if h.state == HealthUnhealthy {
		return
	}

	// Prune old failures outside the window.
	cutoff := now.Add(-healthFailureWindow)
	valid := h.failures[:0]
	for _, t := range h.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	h.failures = append(valid, now)

	if len(h.failures) >= healthFailureThreshold {
		h.state = HealthUnhealthy
		h.unhealthyAt = now
	}
}

// Abandon releases a half-open trial whose outcome is unknown, for example
// because the caller cancelled the request.
func (h *HealthTracker) Abandon() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.trialing = false
}

// advanceLocked moves an expired open breaker to half-open.
func (h *HealthTracker) advanceLocked() {
	if h.state == HealthUnhealthy && h.now().Sub(h.unhealthyAt) >= healthUnhealthyPeriod {
		h.state = HealthHalfOpen
		h.trialing = false
	}
}

// HealthState describes the health of the counter store.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
