package janitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/guestgate"
	"github.com/ineyio/guestgate/janitor"
	"github.com/ineyio/guestgate/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubSweeper struct {
	calls   atomic.Int64
	removed int
	err     error
}

func (s *stubSweeper) Sweep(context.Context, time.Time) (int, error) {
	s.calls.Add(1)
	return s.removed, s.err
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := janitor.New(&stubSweeper{}, "every now and then", quiet)
	require.Error(t, err)
}

func TestNew_DefaultSchedule(t *testing.T) {
	j, err := janitor.New(&stubSweeper{}, "", nil)
	require.NoError(t, err)
	require.NotNil(t, j)
}

func TestRunOnce_AccumulatesStats(t *testing.T) {
	sw := &stubSweeper{removed: 4}
	j, err := janitor.New(sw, janitor.DefaultSchedule, quiet)
	require.NoError(t, err)

	assert.Equal(t, 4, j.RunOnce(context.Background()))
	assert.Equal(t, 4, j.RunOnce(context.Background()))

	last, total := j.Stats()
	assert.False(t, last.IsZero())
	assert.Equal(t, 8, total)
}

func TestRunOnce_ErrorIsLoggedNotFatal(t *testing.T) {
	sw := &stubSweeper{err: errors.New("locked")}
	j, err := janitor.New(sw, janitor.DefaultSchedule, quiet)
	require.NoError(t, err)

	assert.Zero(t, j.RunOnce(context.Background()))
	assert.Equal(t, int64(1), sw.calls.Load())
}

func TestRunOnce_MemoryStore(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	_, _, err := ms.Increment(ctx, "stale", guestgate.WindowDay, old, 1, 10)
	require.NoError(t, err)
	_, _, err = ms.Increment(ctx, "live", guestgate.WindowDay, time.Now(), 1, 10)
	require.NoError(t, err)

	j, err := janitor.New(ms, janitor.DefaultSchedule, quiet)
	require.NoError(t, err)

	assert.Equal(t, 1, j.RunOnce(ctx))
	assert.Equal(t, 1, ms.Len())
}

func TestStart_SweepsOnSchedule(t *testing.T) {
	sw := &stubSweeper{}
	j, err := janitor.New(sw, "@every 1s", quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, j.Start(ctx))
	require.NoError(t, j.Start(ctx), "second start is a no-op")

	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	j.Stop()
	j.Stop()
}

func TestStop_ReleasesWatcher(t *testing.T) {
	j, err := janitor.New(&stubSweeper{}, "@every 1h", quiet)
	require.NoError(t, err)

	baseline := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		// A context that is never cancelled must not pin a goroutine.
		require.NoError(t, j.Start(context.Background()))
		j.Stop()
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline }, 2*time.Second, 20*time.Millisecond)
}

func TestStart_AfterStopSweepsAgain(t *testing.T) {
	sw := &stubSweeper{}
	j, err := janitor.New(sw, "@every 1s", quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx))
	j.Stop()
	cancel()

	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()
	require.Eventually(t, func() bool { return sw.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestStart_ContextCancelStops(t *testing.T) {
	j, err := janitor.New(&stubSweeper{}, "@every 1h", quiet)
	require.NoError(t, err)

	baseline := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline }, 2*time.Second, 20*time.Millisecond)
	j.Stop()
}
