package guestgate

import (
	"context"
	"math"
	"time"
)

// CostLedger tracks the estimated cumulative spend of the current UTC day.
// It is the only writer of the daily cost counter.
type CostLedger struct {
	store    CounterStore
	capUnits int64
	minUnits int64
}

// NewCostLedger creates a ledger whose daily cap is the tighter of the cost
// cap and GlobalDailyLimit items at UnitCost. Because every reservation
// charges at least UnitCost, staying under the cap also keeps the number of
// reservations within GlobalDailyLimit.
func NewCostLedger(store CounterStore, cfg Config) *CostLedger {
	unit := CostUnits(cfg.UnitCost)
	capUnits := CostUnits(cfg.GlobalDailyCostCap)
	if unit > 0 && cfg.GlobalDailyLimit <= math.MaxInt64/unit {
		if byCount := cfg.GlobalDailyLimit * unit; byCount < capUnits {
			capUnits = byCount
		}
	}
	return &CostLedger{
		store:    store,
		capUnits: capUnits,
		minUnits: unit,
	}
}

// Cap returns the daily cap in ledger units.
func (l *CostLedger) Cap() int64 { return l.capUnits }

// Charge returns the units actually reserved for an estimate.
func (l *CostLedger) Charge(estimatedUnits int64) int64 {
	if estimatedUnits < l.minUnits {
		return l.minUnits
	}
	return estimatedUnits
}

// TryReserve atomically adds the estimated cost to today's total if the
// total stays within the cap. A failed reservation has no side effect, so
// there is nothing to roll back. Successful reservations are never
// refunded, even if the downstream work later fails.
func (l *CostLedger) TryReserve(ctx context.Context, now time.Time, estimatedUnits int64) (bool, int64, error) {
	total, ok, err := l.store.Increment(ctx, KeyCost, WindowDay, now, l.Charge(estimatedUnits), l.capUnits)
	if err != nil {
		return false, 0, err
	}
	return ok, total, nil
}

// Spent returns today's reserved total without modifying it.
func (l *CostLedger) Spent(ctx context.Context, now time.Time) (int64, error) {
	return l.store.Peek(ctx, KeyCost, WindowDay, now)
}
