// Package redis provides a Redis-backed CounterStore for guestgate.
//
// Counters are plain integer keys and fingerprint sets are Redis sets, both
// expiring at the end of their window. Test-and-increment runs as a Lua
// script, so the limit check and the write are atomic across every
// instance sharing the Redis deployment.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/guestgate"
)

// Store is a Redis-backed CounterStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ guestgate.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "guestgate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed CounterStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "guestgate:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string, w guestgate.Window, now time.Time) string {
	return s.keyPrefix + guestgate.BucketKey(key, w, now)
}

// incrementScript is a Lua script for atomic test-and-increment.
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = max
// ARGV[3] = expire_at (unix milliseconds)
//
// Returns {value, applied} where applied is 1 when the increment was written.
var incrementScript = goredis.NewScript(`
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local max = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if delta > max - current then
    return {current, 0}
end

local value = redis.call("INCRBY", key, delta)
if redis.call("PTTL", key) < 0 then
    redis.call("PEXPIREAT", key, ARGV[3])
end
return {value, 1}
`)

// addToSetScript adds a member and returns the set cardinality.
// KEYS[1] = set key
// ARGV[1] = member
// ARGV[2] = expire_at (unix milliseconds)
var addToSetScript = goredis.NewScript(`
local key = KEYS[1]
redis.call("SADD", key, ARGV[1])
if redis.call("PTTL", key) < 0 then
    redis.call("PEXPIREAT", key, ARGV[2])
end
return redis.call("SCARD", key)
`)

// Increment atomically adds delta to the counter if the result stays
// within max.
func (s *Store) Increment(ctx context.Context, key string, w guestgate.Window, now time.Time, delta, max int64) (int64, bool, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(key, w, now)},
		delta, max, w.ExpiresAt(now).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, false, unavailable("increment", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("guestgate/redis: unexpected increment result: %v", res)
	}
	return res[0], res[1] == 1, nil
}

// AddToSet adds member to the set and returns its distinct size.
func (s *Store) AddToSet(ctx context.Context, setKey, member string, w guestgate.Window, now time.Time) (int64, error) {
	n, err := addToSetScript.Run(ctx, s.client,
		[]string{s.key(setKey, w, now)},
		member, w.ExpiresAt(now).UnixMilli(),
	).Int64()
	if err != nil {
		return 0, unavailable("add to set", err)
	}
	return n, nil
}

// PeekDistinctCount returns the distinct size of a set.
func (s *Store) PeekDistinctCount(ctx context.Context, setKey string, w guestgate.Window, now time.Time) (int64, error) {
	n, err := s.client.SCard(ctx, s.key(setKey, w, now)).Result()
	if err != nil {
		return 0, unavailable("peek set", err)
	}
	return n, nil
}

// Peek returns the current counter value.
func (s *Store) Peek(ctx context.Context, key string, w guestgate.Window, now time.Time) (int64, error) {
	n, err := s.client.Get(ctx, s.key(key, w, now)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("peek", err)
	}
	return n, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("guestgate/redis: %s: %w: %w", op, guestgate.ErrStoreUnavailable, err)
}
