package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/guestgate"
	"github.com/ineyio/guestgate/store"
	"github.com/ineyio/guestgate/store/storetest"
)

func newMemory(t *testing.T) guestgate.CounterStore {
	return store.NewMemoryStore()
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, newMemory)
}

func TestMemoryStore_Sweep(t *testing.T) {
	storetest.RunSweeper(t, newMemory)
}

func TestMemoryStore_SweepKeepsLiveKeys(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	_, _, err := s.Increment(ctx, "k", guestgate.WindowHour, storetest.At, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	expiry := guestgate.WindowHour.ExpiresAt(storetest.At)
	removed, err := s.Sweep(ctx, expiry.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.Sweep(ctx, expiry)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_Unavailable(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	s.SetUnavailable(errors.New("boom"))

	_, _, err := s.Increment(ctx, "k", guestgate.WindowDay, storetest.At, 1, 10)
	assert.ErrorIs(t, err, guestgate.ErrStoreUnavailable)
	_, err = s.AddToSet(ctx, "s", "m", guestgate.WindowDay, storetest.At)
	assert.ErrorIs(t, err, guestgate.ErrStoreUnavailable)
	_, err = s.Peek(ctx, "k", guestgate.WindowDay, storetest.At)
	assert.ErrorIs(t, err, guestgate.ErrStoreUnavailable)

	s.SetUnavailable(nil)
	_, ok, err := s.Increment(ctx, "k", guestgate.WindowDay, storetest.At, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_InvalidWindow(t *testing.T) {
	s := store.NewMemoryStore()

	_, _, err := s.Increment(context.Background(), "k", guestgate.Window(0), storetest.At, 1, 10)
	require.Error(t, err)
}
