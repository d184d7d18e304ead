package guestgate

import "math"

// CostUnitsPerCurrency is the ledger resolution: costs are tracked as
// integer millionths of a currency unit so the counter store never deals
// with floats.
const CostUnitsPerCurrency = 1_000_000

// maxCurrency is the smallest amount that no longer fits the ledger.
const maxCurrency = float64(math.MaxInt64) / CostUnitsPerCurrency

// CostUnits converts a currency amount to ledger units, rounding to the
// nearest unit. Amounts beyond the int64 range saturate.
func CostUnits(amount float64) int64 {
	units := math.Round(amount * CostUnitsPerCurrency)
	switch {
	case math.IsNaN(units):
		return 0
	case units >= float64(math.MaxInt64):
		return math.MaxInt64
	case units <= float64(math.MinInt64):
		return math.MinInt64
	}
	return int64(units)
}

// Currency converts ledger units back to a currency amount.
func Currency(units int64) float64 {
	return float64(units) / CostUnitsPerCurrency
}

// EstimateCost returns the ledger units to reserve for items processed at
// the guest-tier configuration. Scale and model are fixed for guests, so
// the estimate is linear in the item count.
func (c Config) EstimateCost(items int) int64 {
	if items < 1 {
		items = 1
	}
	return int64(items) * CostUnits(c.UnitCost)
}
