//go:build integration

package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/guestgate"
	storeredis "github.com/ineyio/guestgate/store/redis"
	"github.com/ineyio/guestgate/store/storetest"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T) guestgate.CounterStore {
	t.Helper()
	client := newTestClient(t)
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return storeredis.New(client, storeredis.WithKeyPrefix(prefix))
}

func TestStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestStore_KeysExpireAfterWindow(t *testing.T) {
	client := newTestClient(t)
	prefix := "test:" + t.Name() + ":"
	s := storeredis.New(client, storeredis.WithKeyPrefix(prefix))
	ctx := context.Background()

	// Use the current hour so the expiry lies in the future.
	now := time.Now().UTC()
	_, _, err := s.Increment(ctx, "k", guestgate.WindowHour, now, 1, 10)
	require.NoError(t, err)

	key := prefix + guestgate.BucketKey("k", guestgate.WindowHour, now)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	expireAt, err := client.ExpireTime(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, guestgate.WindowHour.ExpiresAt(now).Unix(), int64(expireAt/time.Second))
}

func TestStore_UnreachableIsUnavailable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	s := storeredis.New(client)

	_, _, err := s.Increment(context.Background(), "k", guestgate.WindowDay, storetest.At, 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, guestgate.ErrStoreUnavailable)
}
