package guestgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// errCircuitOpen is wrapped into the decision error while the store
// breaker is open.
var errCircuitOpen = errors.New("store circuit open")

// Controller decides whether an anonymous request may be processed.
//
// It is safe for concurrent use and holds no locks of its own: all
// coordination between concurrent evaluations, including evaluations in
// other processes, happens through the CounterStore's atomic operations.
type Controller struct {
	cfg      Config
	store    CounterStore
	ledger   *CostLedger
	policies []Policy
	advisory *FingerprintDailyPolicy
	meter    Meter
	health   *HealthTracker
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithHealthTracker sets the store circuit breaker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(c *Controller) { c.health = h }
}

// WithLogger sets the logger used for diagnostics that are not part of a
// decision, such as advisory counter failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTimeout bounds the store round trips of one evaluation. A timeout
// rejects with store_unavailable. Overrides Config.EvaluateTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithClock sets the clock used to timestamp signals that arrive without
// one.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithoutAdvisory disables the per-fingerprint advisory counter, leaving
// exactly the enforcing store operations per request.
func WithoutAdvisory() Option {
	return func(c *Controller) { c.advisory = nil }
}

// NewController creates a Controller enforcing cfg against store.
// Defaults (no-op meter, fresh HealthTracker, slog.Default) are used unless
// overridden via options.
func NewController(cfg Config, store CounterStore, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("guestgate: counter store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ledger := NewCostLedger(store, cfg)
	c := &Controller{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		// Order matters: later policies assume the global reservation
		// has already been made.
		policies: []Policy{
			&GlobalDailyPolicy{Ledger: ledger},
			&IPRatePolicy{Store: store, HourlyLimit: cfg.IPHourlyLimit, DailyLimit: cfg.IPDailyLimit},
			&FingerprintDiversityPolicy{Store: store, Limit: cfg.FingerprintsPerIPLimit},
		},
		advisory: &FingerprintDailyPolicy{Store: store, Limit: cfg.FingerprintDailyLimit},
		timeout:  cfg.EvaluateTimeout,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Apply defaults after options.
	if c.meter == nil {
		c.meter = &noopMeter{}
	}
	if c.health == nil {
		c.health = NewHealthTracker()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c, nil
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.cfg }

// Ledger returns the daily cost ledger.
func (c *Controller) Ledger() *CostLedger { return c.ledger }

// Health returns the store circuit breaker.
func (c *Controller) Health() *HealthTracker { return c.health }

// Evaluate runs the admission policies for one request and returns the
// decision. Every call has side effects on the counters, admitted or not,
// so callers must call it at most once per unit of work and must not
// retry it. Rejections, including store failures, are returned as
// decisions rather than errors.
//
// A rejected request costs at most four store operations. An admitted
// request costs a fifth: the best-effort per-fingerprint counter, whose
// failure never changes the decision. Build the controller with
// WithoutAdvisory to stay within four operations per request.
func (c *Controller) Evaluate(ctx context.Context, signals RequestSignals, estimatedCost int64) Decision {
	started := time.Now()
	d := Decision{ID: uuid.New().String()}
	ev := DecisionEvent{ID: d.ID, LedgerCap: c.ledger.Cap()}

	defer func() {
		ev.Admitted = d.Admitted
		ev.Reason = d.Reason
		ev.Advisory = d.Advisory
		ev.Error = d.Err
		ev.Duration = time.Since(started)
		c.meter.OnDecision(ev)
	}()

	if err := signals.Validate(); err != nil {
		ev.ClientIP = strings.TrimSpace(signals.ClientIP)
		d.Reason = ReasonInvalidSignals
		d.Err = err
		return d
	}
	s := signals.Normalize(c.cfg.ipv6Prefix())
	ev.ClientIP = s.ClientIP
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now().UTC()
	}

	if !c.health.Allow() {
		d.Reason = ReasonStoreUnavailable
		d.Err = fmt.Errorf("%w: %w", ErrStoreUnavailable, errCircuitOpen)
		return d
	}

	evalCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	for _, p := range c.policies {
		v, err := p.Check(evalCtx, s, estimatedCost)
		if err != nil {
			c.storeFailed(ctx, d.ID, p.Name(), err)
			ev.Policy = p.Name()
			d.Reason = ReasonStoreUnavailable
			d.Err = fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, p.Name(), err)
			return d
		}
		if _, ok := p.(*GlobalDailyPolicy); ok {
			ev.LedgerTotal = v.Value
			if v.Pass {
				ev.CostUnits = c.ledger.Charge(estimatedCost)
			}
		}
		if !v.Pass {
			c.health.RecordSuccess()
			ev.Policy = p.Name()
			d.Reason = v.Reason
			d.RetryAt = v.Window.End(s.Timestamp)
			return d
		}
	}

	c.health.RecordSuccess()
	d.Admitted = true

	if c.advisory != nil {
		adv, err := c.advisory.Observe(evalCtx, s)
		if err != nil {
			c.meter.OnStoreError(StoreErrorEvent{DecisionID: d.ID, Policy: "fingerprint_daily", Error: err})
			c.logger.Warn("advisory fingerprint counter failed",
				"decision_id", d.ID,
				"error", err,
			)
		}
		d.Advisory = adv
	}

	return d
}

// storeFailed feeds a store error into the breaker. Errors caused by the
// caller abandoning the request say nothing about the store.
func (c *Controller) storeFailed(parent context.Context, id, policy string, err error) {
	c.meter.OnStoreError(StoreErrorEvent{DecisionID: id, Policy: policy, Error: err})
	if parent.Err() != nil {
		c.health.Abandon()
		return
	}
	c.health.RecordFailure()
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnDecision(DecisionEvent)     {}
func (m *noopMeter) OnStoreError(StoreErrorEvent) {}
