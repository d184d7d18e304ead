// Package store provides the in-process CounterStore for guestgate.
//
// MemoryStore is exact within one process. Deployments with more than one
// instance must share a store (see store/redis and store/postgres).
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ineyio/guestgate"
)

// MemoryStore is an in-memory CounterStore with per-key expiry.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	sets     map[string]*set
	down     error // when non-nil every operation fails with it
}

type counter struct {
	value     int64
	expiresAt time.Time
}

type set struct {
	members   map[string]struct{}
	expiresAt time.Time
}

var (
	_ guestgate.CounterStore = (*MemoryStore)(nil)
	_ guestgate.Sweeper      = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		sets:     make(map[string]*set),
	}
}

// Increment atomically adds delta to the counter if the result stays
// within max.
func (s *MemoryStore) Increment(ctx context.Context, key string, w guestgate.Window, now time.Time, delta, max int64) (int64, bool, error) {
	if err := s.check(ctx, w); err != nil {
		return 0, false, err
	}

	k := guestgate.BucketKey(key, w, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[k]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: w.ExpiresAt(now)}
		s.counters[k] = c
	}

	if delta > max-c.value {
		return c.value, false, nil
	}
	c.value += delta
	return c.value, true, nil
}

// AddToSet adds member to the set and returns its distinct size.
func (s *MemoryStore) AddToSet(ctx context.Context, setKey, member string, w guestgate.Window, now time.Time) (int64, error) {
	if err := s.check(ctx, w); err != nil {
		return 0, err
	}

	k := guestgate.BucketKey(setKey, w, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sets[k]
	if !ok || !now.Before(st.expiresAt) {
		st = &set{members: make(map[string]struct{}), expiresAt: w.ExpiresAt(now)}
		s.sets[k] = st
	}
	st.members[member] = struct{}{}
	return int64(len(st.members)), nil
}

// PeekDistinctCount returns the distinct size of a set.
func (s *MemoryStore) PeekDistinctCount(ctx context.Context, setKey string, w guestgate.Window, now time.Time) (int64, error) {
	if err := s.check(ctx, w); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sets[guestgate.BucketKey(setKey, w, now)]
	if !ok || !now.Before(st.expiresAt) {
		return 0, nil
	}
	return int64(len(st.members)), nil
}

// Peek returns the current counter value.
func (s *MemoryStore) Peek(ctx context.Context, key string, w guestgate.Window, now time.Time) (int64, error) {
	if err := s.check(ctx, w); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[guestgate.BucketKey(key, w, now)]
	if !ok || !now.Before(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

// Sweep removes counters and sets that expired before now.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, k)
			removed++
		}
	}
	for k, st := range s.sets {
		if !now.Before(st.expiresAt) {
			delete(s.sets, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live keys, expired or not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.counters) + len(s.sets)
}

// SetUnavailable makes every subsequent operation fail with err wrapped in
// guestgate.ErrStoreUnavailable. Pass nil to recover. Used to exercise
// outage handling.
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.down = err
}

func (s *MemoryStore) check(ctx context.Context, w guestgate.Window) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("guestgate/memory: %w: %w", guestgate.ErrStoreUnavailable, err)
	}
	if !w.Valid() {
		return fmt.Errorf("guestgate/memory: invalid window %d", w)
	}

	s.mu.Lock()
	down := s.down
	s.mu.Unlock()

	if down != nil {
		return fmt.Errorf("guestgate/memory: %w: %w", guestgate.ErrStoreUnavailable, down)
	}
	return nil
}
