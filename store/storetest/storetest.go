// Package storetest is a conformance suite for guestgate.CounterStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/guestgate"
)

// At is the reference time used by the suite.
var At = time.Date(2026, 10, 18, 14, 5, 0, 0, time.UTC)

// Run exercises store semantics against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) guestgate.CounterStore) {
	t.Run("IncrementWithinMax", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := int64(1); i <= 3; i++ {
			v, ok, err := s.Increment(ctx, "k", guestgate.WindowHour, At, 1, 3)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, i, v)
		}

		v, ok, err := s.Increment(ctx, "k", guestgate.WindowHour, At, 1, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(3), v)

		peek, err := s.Peek(ctx, "k", guestgate.WindowHour, At)
		require.NoError(t, err)
		assert.Equal(t, int64(3), peek, "a rejected increment must not write")
	})

	t.Run("IncrementDelta", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v, ok, err := s.Increment(ctx, "cost", guestgate.WindowDay, At, 30, 50)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(30), v)

		v, ok, err = s.Increment(ctx, "cost", guestgate.WindowDay, At, 30, 50)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(30), v)

		v, ok, err = s.Increment(ctx, "cost", guestgate.WindowDay, At, 20, 50)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(50), v)
	})

	t.Run("IncrementDeltaLargerThanMaxOnEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		v, ok, err := s.Increment(ctx, "k", guestgate.WindowDay, At, 10, 5)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, v)
	})

	t.Run("IncrementUnbounded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, ok, err := s.Increment(ctx, "fp:x", guestgate.WindowDay, At, 1, math.MaxInt64)
			require.NoError(t, err)
			require.True(t, ok)
		}
		v, err := s.Peek(ctx, "fp:x", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)
	})

	t.Run("WindowsAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.Increment(ctx, "k", guestgate.WindowHour, At, 1, 10)
		require.NoError(t, err)

		hourly, err := s.Peek(ctx, "k", guestgate.WindowHour, At)
		require.NoError(t, err)
		daily, err := s.Peek(ctx, "k", guestgate.WindowDay, At)
		require.NoError(t, err)
		nextHour, err := s.Peek(ctx, "k", guestgate.WindowHour, At.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, int64(1), hourly)
		assert.Zero(t, daily)
		assert.Zero(t, nextHour)
	})

	t.Run("PeekMissing", func(t *testing.T) {
		s := newStore(t)

		v, err := s.Peek(context.Background(), "missing", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Zero(t, v)

		n, err := s.PeekDistinctCount(context.Background(), "missing", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("AddToSet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := []int64{1, 2, 2, 3, 3}
		for i, m := range []string{"a", "b", "a", "c", "b"} {
			n, err := s.AddToSet(ctx, "fpset:1.2.3.4", m, guestgate.WindowDay, At)
			require.NoError(t, err)
			assert.Equal(t, want[i], n, "after adding %q", m)
		}

		n, err := s.PeekDistinctCount(ctx, "fpset:1.2.3.4", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = s.AddToSet(ctx, "fpset:1.2.3.4", "d", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)

		n, err = s.AddToSet(ctx, "fpset:1.2.3.4", "d", guestgate.WindowDay, At.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "next day starts an empty set")
	})

	t.Run("ConcurrentIncrement", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers, limit = 50, 20
		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Increment(ctx, "race", guestgate.WindowDay, At, 1, limit)
				if err == nil && ok {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(limit), admitted.Load())
		v, err := s.Peek(ctx, "race", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Equal(t, int64(limit), v)
	})

	t.Run("ConcurrentAddToSet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.AddToSet(ctx, "set", fmt.Sprintf("m%d", i%10), guestgate.WindowDay, At)
			}(i)
		}
		wg.Wait()

		n, err := s.PeekDistinctCount(ctx, "set", guestgate.WindowDay, At)
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := s.Increment(ctx, "k", guestgate.WindowDay, At, 1, 10)
		require.Error(t, err)
		assert.True(t, guestgate.IsStoreUnavailable(err))
	})
}

// RunSweeper checks that Sweep removes expired entries only.
func RunSweeper(t *testing.T, newStore func(t *testing.T) guestgate.CounterStore) {
	s := newStore(t)
	sw, ok := s.(guestgate.Sweeper)
	require.True(t, ok, "store does not implement Sweeper")
	ctx := context.Background()

	_, _, err := s.Increment(ctx, "old", guestgate.WindowHour, At, 1, 10)
	require.NoError(t, err)
	_, err = s.AddToSet(ctx, "oldset", "m", guestgate.WindowHour, At)
	require.NoError(t, err)
	_, _, err = s.Increment(ctx, "new", guestgate.WindowDay, At, 1, 10)
	require.NoError(t, err)

	removed, err := sw.Sweep(ctx, At)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = sw.Sweep(ctx, guestgate.WindowHour.ExpiresAt(At).Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	v, err := s.Peek(ctx, "new", guestgate.WindowDay, At)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
