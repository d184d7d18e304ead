package guestgate

import (
	"context"
	"math"
)

// Verdict is the result of one policy check.
type Verdict struct {
	Pass   bool
	Reason Reason
	// Window is the window whose limit rejected the request.
	Window Window
	// Value is the counter value observed by the check.
	Value int64
}

func pass(value int64) Verdict { return Verdict{Pass: true, Value: value} }

func reject(reason Reason, w Window, value int64) Verdict {
	return Verdict{Reason: reason, Window: w, Value: value}
}

// Policy is one server-enforced admission rule. Check may write to the
// counter store; it returns an error only when the store could not answer.
type Policy interface {
	Name() string
	Check(ctx context.Context, s RequestSignals, cost int64) (Verdict, error)
}

// GlobalDailyPolicy reserves the request's cost in the daily ledger.
type GlobalDailyPolicy struct {
	Ledger *CostLedger
}

var _ Policy = (*GlobalDailyPolicy)(nil)

func (p *GlobalDailyPolicy) Name() string { return "global_daily" }

func (p *GlobalDailyPolicy) Check(ctx context.Context, s RequestSignals, cost int64) (Verdict, error) {
	ok, total, err := p.Ledger.TryReserve(ctx, s.Timestamp, cost)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return reject(ReasonGlobalCapExceeded, WindowDay, total), nil
	}
	return pass(total), nil
}

// IPRatePolicy enforces the hourly and daily request limits per client IP.
// The hourly window is checked first; under bursts it fails faster.
type IPRatePolicy struct {
	Store       CounterStore
	HourlyLimit int64
	DailyLimit  int64
}

var _ Policy = (*IPRatePolicy)(nil)

func (p *IPRatePolicy) Name() string { return "ip_rate" }

func (p *IPRatePolicy) Check(ctx context.Context, s RequestSignals, _ int64) (Verdict, error) {
	key := IPKey(s.ClientIP)

	hourly, ok, err := p.Store.Increment(ctx, key, WindowHour, s.Timestamp, 1, p.HourlyLimit)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return reject(ReasonIPHourlyExceeded, WindowHour, hourly), nil
	}

	daily, ok, err := p.Store.Increment(ctx, key, WindowDay, s.Timestamp, 1, p.DailyLimit)
	if err != nil {
		return Verdict{}, err
	}
	if !ok {
		return reject(ReasonIPDailyExceeded, WindowDay, daily), nil
	}
	return pass(daily), nil
}

// FingerprintDiversityPolicy flags an IP presenting more distinct
// fingerprints in one day than a real household would.
type FingerprintDiversityPolicy struct {
	Store CounterStore
	Limit int64
}

var _ Policy = (*FingerprintDiversityPolicy)(nil)

func (p *FingerprintDiversityPolicy) Name() string { return "fingerprint_diversity" }

func (p *FingerprintDiversityPolicy) Check(ctx context.Context, s RequestSignals, _ int64) (Verdict, error) {
	distinct, err := p.Store.AddToSet(ctx, FingerprintSetKey(s.ClientIP), s.Fingerprint, WindowDay, s.Timestamp)
	if err != nil {
		return Verdict{}, err
	}
	if distinct > p.Limit {
		return reject(ReasonBotSuspected, WindowDay, distinct), nil
	}
	return pass(distinct), nil
}

// FingerprintDailyPolicy counts requests per device fingerprint. It is
// advisory: the result selects a friendlier message but never rejects,
// because the fingerprint is supplied by the client.
type FingerprintDailyPolicy struct {
	Store CounterStore
	Limit int64
}

// Observe records one admitted request for the fingerprint and returns the
// device's daily status.
func (p *FingerprintDailyPolicy) Observe(ctx context.Context, s RequestSignals) (Advisory, error) {
	used, _, err := p.Store.Increment(ctx, FingerprintKey(s.Fingerprint), WindowDay, s.Timestamp, 1, math.MaxInt64)
	if err != nil {
		return Advisory{Limit: p.Limit}, err
	}
	return Advisory{Tracked: true, Used: used, Limit: p.Limit}, nil
}
