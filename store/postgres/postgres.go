// Package postgres provides a PostgreSQL-backed CounterStore for guestgate.
//
// Each counter is one row updated by a single conditional upsert, so the
// limit check and the increment commit together under the row lock. This
// makes it safe for multi-instance deployments and durable across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/guestgate"
)

// Store is a PostgreSQL-backed CounterStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ guestgate.CounterStore = (*Store)(nil)
	_ guestgate.Sweeper      = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "guestgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed CounterStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "guestgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) countersTable() string { return s.tablePrefix + "counters" }
func (s *Store) membersTable() string  { return s.tablePrefix + "set_members" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BIGINT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expires_at ON %[1]s (expires_at);
		CREATE TABLE IF NOT EXISTS %[2]s (
			set_key TEXT NOT NULL,
			member TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (set_key, member)
		);
		CREATE INDEX IF NOT EXISTS %[2]s_expires_at ON %[2]s (expires_at);
	`, s.countersTable(), s.membersTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("guestgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Increment atomically adds delta to the counter if the result stays
// within max.
func (s *Store) Increment(ctx context.Context, key string, w guestgate.Window, now time.Time, delta, max int64) (int64, bool, error) {
	k := guestgate.BucketKey(key, w, now)

	if delta > max {
		current, err := s.Peek(ctx, key, w, now)
		return current, false, err
	}

	// The WHERE clause of DO UPDATE turns a would-be overflow into
	// "no row returned" without writing.
	var value int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS c (key, value, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET value = c.value + EXCLUDED.value
			WHERE c.value <= $4 - EXCLUDED.value
			RETURNING c.value`, s.countersTable()),
		k, delta, w.ExpiresAt(now), max,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := s.Peek(ctx, key, w, now)
		return current, false, err
	}
	if err != nil {
		return 0, false, unavailable("increment", err)
	}
	return value, true, nil
}

// AddToSet adds member to the set and returns its distinct size.
func (s *Store) AddToSet(ctx context.Context, setKey, member string, w guestgate.Window, now time.Time) (int64, error) {
	k := guestgate.BucketKey(setKey, w, now)

	batch := &pgx.Batch{}
	batch.Queue(
		fmt.Sprintf(`INSERT INTO %s (set_key, member, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (set_key, member) DO NOTHING`, s.membersTable()),
		k, member, w.ExpiresAt(now),
	)
	batch.Queue(fmt.Sprintf(`SELECT count(*) FROM %s WHERE set_key = $1`, s.membersTable()), k)

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	if _, err := results.Exec(); err != nil {
		return 0, unavailable("add to set", err)
	}
	var n int64
	if err := results.QueryRow().Scan(&n); err != nil {
		return 0, unavailable("count set", err)
	}
	return n, nil
}

// PeekDistinctCount returns the distinct size of a set.
func (s *Store) PeekDistinctCount(ctx context.Context, setKey string, w guestgate.Window, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE set_key = $1`, s.membersTable()),
		guestgate.BucketKey(setKey, w, now),
	).Scan(&n)
	if err != nil {
		return 0, unavailable("peek set", err)
	}
	return n, nil
}

// Peek returns the current counter value.
func (s *Store) Peek(ctx context.Context, key string, w guestgate.Window, now time.Time) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.countersTable()),
		guestgate.BucketKey(key, w, now),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("peek", err)
	}
	return value, nil
}

// Sweep deletes counters and set members that expired before now.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	var total int64
	for _, table := range []string{s.countersTable(), s.membersTable()} {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, table), now)
		if err != nil {
			return int(total), fmt.Errorf("guestgate/postgres: sweep %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return int(total), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("guestgate/postgres: %s: %w: %w", op, guestgate.ErrStoreUnavailable, err)
}
