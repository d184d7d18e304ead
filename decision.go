package guestgate

import "time"

// Reason names why a request was rejected.
type Reason string

const (
	ReasonInvalidSignals    Reason = "invalid_signals"
	ReasonGlobalCapExceeded Reason = "global_cap_exceeded"
	ReasonIPHourlyExceeded  Reason = "ip_hourly_exceeded"
	ReasonIPDailyExceeded   Reason = "ip_daily_exceeded"
	ReasonBotSuspected      Reason = "bot_suspected"
	ReasonStoreUnavailable  Reason = "store_unavailable"
)

// Alertable reports whether a rejection with this reason is an
// infrastructure failure that should page someone. Limit kinds are
// routine business outcomes and are only metered.
func (r Reason) Alertable() bool {
	return r == ReasonStoreUnavailable
}

// LimitExceeded reports whether r is one of the four limit kinds.
func (r Reason) LimitExceeded() bool {
	switch r {
	case ReasonGlobalCapExceeded, ReasonIPHourlyExceeded, ReasonIPDailyExceeded, ReasonBotSuspected:
		return true
	}
	return false
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	// ID correlates the decision across logs and metrics.
	ID       string
	Admitted bool
	// Reason is empty when Admitted.
	Reason Reason

	// RetryAt is when the window that caused the rejection resets.
	// Zero for invalid_signals and store_unavailable.
	RetryAt time.Time

	// Advisory carries the per-device soft limit status. It never
	// influences Admitted.
	Advisory Advisory

	// Err is the underlying cause for store_unavailable and
	// invalid_signals rejections.
	Err error
}

// Advisory is the per-fingerprint daily status, computed for message
// selection only. The fingerprint is client controlled, so it is never
// used for enforcement.
type Advisory struct {
	// Tracked is false when the advisory counter was not updated
	// (rejected request, disabled, or store error).
	Tracked bool
	Used    int64
	Limit   int64
}

// Exhausted reports whether the device has reached its soft daily limit.
func (a Advisory) Exhausted() bool {
	return a.Tracked && a.Limit > 0 && a.Used >= a.Limit
}

// Remaining returns how many more requests the device may make today
// before the soft limit is reached.
func (a Advisory) Remaining() int64 {
	if !a.Tracked || a.Used >= a.Limit {
		return 0
	}
	return a.Limit - a.Used
}
