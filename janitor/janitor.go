// Package janitor periodically removes expired counters from stores that
// do not expire keys on their own (SQLite, PostgreSQL, in-memory).
//
// Expired counters never influence a decision, because every key carries
// its window bucket; sweeping only reclaims space.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ineyio/guestgate"
)

// DefaultSchedule sweeps every ten minutes.
const DefaultSchedule = "@every 10m"

// Scheduler runs Sweep on a cron schedule.
type Scheduler struct {
	sweeper  guestgate.Sweeper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	lastRun time.Time
	removed int
}

// New creates a scheduler for sweeper. An empty schedule means
// DefaultSchedule. A nil logger means slog.Default().
func New(sweeper guestgate.Sweeper, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("guestgate/janitor: invalid schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.With("component", "janitor"),
		now:      time.Now,
	}, nil
}

// Start schedules sweeping until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("guestgate/janitor: schedule sweep: %w", err)
	}
	c.Start()
	stop := make(chan struct{})
	s.cron, s.stop, s.running = c, stop, true

	s.logger.Info("janitor started", "schedule", s.schedule)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}()

	return nil
}

// RunOnce performs one sweep and returns the number of removed entries.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	removed, err := s.sweeper.Sweep(ctx, now)

	s.mu.Lock()
	s.lastRun = now
	s.removed += removed
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return removed
	}
	if removed > 0 {
		s.logger.Info("sweep completed", "removed", removed)
	} else {
		s.logger.Debug("sweep completed, nothing expired")
	}
	return removed
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("janitor stopped")
}

// Stats returns the time of the last sweep and the total removed so far.
func (s *Scheduler) Stats() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRun, s.removed
}
