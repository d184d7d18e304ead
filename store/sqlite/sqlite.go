// Package sqlite provides a SQLite-backed CounterStore for guestgate.
//
// It suits single-instance deployments that want counters to survive a
// restart without running Redis or PostgreSQL. SQLite serializes writers,
// and each increment is one conditional upsert, so test-and-increment is
// atomic for every goroutine of the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ineyio/guestgate"
)

// Store implements guestgate.CounterStore on SQLite.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once

	incrementStmt *sql.Stmt
	peekStmt      *sql.Stmt
	addMemberStmt *sql.Stmt
	countSetStmt  *sql.Stmt
}

var (
	_ guestgate.CounterStore = (*Store)(nil)
	_ guestgate.Sweeper      = (*Store)(nil)
)

// Config configures the SQLite store.
type Config struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Open opens (and creates if needed) a SQLite counter store at path.
func Open(path string) (*Store, error) {
	return OpenWithConfig(Config{Path: path})
}

// OpenWithConfig opens a SQLite counter store with custom configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("guestgate/sqlite: path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("guestgate/sqlite: open: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("guestgate/sqlite: init schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("guestgate/sqlite: prepare: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_counters_expires_at ON counters(expires_at);

	CREATE TABLE IF NOT EXISTS set_members (
		set_key TEXT NOT NULL,
		member TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (set_key, member)
	);
	CREATE INDEX IF NOT EXISTS idx_set_members_expires_at ON set_members(expires_at);
	`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO counters (key, value, expires_at) VALUES (?1, ?2, ?3)
		ON CONFLICT (key) DO UPDATE SET value = value + excluded.value
		WHERE value <= ?4 - excluded.value
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("increment statement: %w", err)
	}

	s.peekStmt, err = s.db.Prepare(`SELECT value FROM counters WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("peek statement: %w", err)
	}

	s.addMemberStmt, err = s.db.Prepare(`
		INSERT INTO set_members (set_key, member, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (set_key, member) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("add member statement: %w", err)
	}

	s.countSetStmt, err = s.db.Prepare(`SELECT count(*) FROM set_members WHERE set_key = ?`)
	if err != nil {
		return fmt.Errorf("count set statement: %w", err)
	}

	return nil
}

// Increment atomically adds delta to the counter if the result stays
// within max.
func (s *Store) Increment(ctx context.Context, key string, w guestgate.Window, now time.Time, delta, max int64) (int64, bool, error) {
	if delta > max {
		current, err := s.Peek(ctx, key, w, now)
		return current, false, err
	}

	var value int64
	err := s.incrementStmt.QueryRowContext(ctx,
		guestgate.BucketKey(key, w, now), delta, w.ExpiresAt(now).Unix(), max,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.addMemberStmt).ExecContext(ctx, k, member, w.ExpiresAt(now).Unix()); err != nil {
		return 0, unavailable("add to set", err)
	}
	var n int64
	if err := tx.StmtContext(ctx, s.countSetStmt).QueryRowContext(ctx, k).Scan(&n); err != nil {
		return 0, unavailable("count set", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit", err)
	}
	return n, nil
}

// PeekDistinctCount returns the distinct size of a set.
func (s *Store) PeekDistinctCount(ctx context.Context, setKey string, w guestgate.Window, now time.Time) (int64, error) {
	var n int64
	if err := s.countSetStmt.QueryRowContext(ctx, guestgate.BucketKey(setKey, w, now)).Scan(&n); err != nil {
		return 0, unavailable("peek set", err)
	}
	return n, nil
}

// Peek returns the current counter value.
func (s *Store) Peek(ctx context.Context, key string, w guestgate.Window, now time.Time) (int64, error) {
	var value int64
	err := s.peekStmt.QueryRowContext(ctx, guestgate.BucketKey(key, w, now)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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
	for _, table := range []string{"counters", "set_members"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at < ?", now.Unix())
		if err != nil {
			return int(total), fmt.Errorf("guestgate/sqlite: sweep %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return int(total), fmt.Errorf("guestgate/sqlite: sweep %s: %w", table, err)
		}
		total += n
	}
	return int(total), nil
}

// Close releases the database. Close is idempotent.
func (s *Store) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.incrementStmt, s.peekStmt, s.addMemberStmt, s.countSetStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

func unavailable(op string, err error) error {
	return fmt.Errorf("guestgate/sqlite: %s: %w: %w", op, guestgate.ErrStoreUnavailable, err)
}
