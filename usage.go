package guestgate

import (
	"context"
	"time"
)

// Usage is a read-only snapshot of the counters that govern guests at a
// point in time.
type Usage struct {
	At        time.Time
	CostUnits int64
	CostCap   int64
	// IP fields are populated only when an IP was requested.
	ClientIP     string
	IPHourly     int64
	IPDaily      int64
	Fingerprints int64
}

// Usage reads the current counters without modifying them. ip may be
// empty to read only the global ledger.
func (c *Controller) Usage(ctx context.Context, ip string, at time.Time) (Usage, error) {
	if at.IsZero() {
		at = c.now()
	}
	at = at.UTC()

	u := Usage{At: at, CostCap: c.ledger.Cap()}

	spent, err := c.ledger.Spent(ctx, at)
	if err != nil {
		return Usage{}, err
	}
	u.CostUnits = spent

	if ip == "" {
		return u, nil
	}

	s := RequestSignals{ClientIP: ip}.Normalize(c.cfg.ipv6Prefix())
	u.ClientIP = s.ClientIP

	if u.IPHourly, err = c.store.Peek(ctx, IPKey(s.ClientIP), WindowHour, at); err != nil {
		return Usage{}, err
	}
	if u.IPDaily, err = c.store.Peek(ctx, IPKey(s.ClientIP), WindowDay, at); err != nil {
		return Usage{}, err
	}
	if u.Fingerprints, err = c.store.PeekDistinctCount(ctx, FingerprintSetKey(s.ClientIP), WindowDay, at); err != nil {
		return Usage{}, err
	}
	return u, nil
}
