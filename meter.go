package guestgate

import "time"

// Meter observes admission decisions for monitoring/logging.
type Meter interface {
	// OnDecision is called once per Evaluate call.
	OnDecision(event DecisionEvent)

	// OnStoreError is called for every failed store operation, including
	// failures of the advisory counter that do not change the decision.
	OnStoreError(event StoreErrorEvent)
}

// DecisionEvent describes one admission decision.
type DecisionEvent struct {
	ID       string
	Admitted bool
	Reason   Reason
	ClientIP string
	// Policy is the policy that rejected the request, if any.
	Policy string
	// CostUnits is the amount charged to the daily ledger; zero when the
	// global reservation was not made.
	CostUnits int64
	// LedgerTotal is today's ledger total observed by the global policy.
	LedgerTotal int64
	LedgerCap   int64
	Advisory    Advisory
	Duration    time.Duration
	Error       error
}

// StoreErrorEvent describes a failed counter store operation.
type StoreErrorEvent struct {
	DecisionID string
	Policy     string
	Error      error
}
