package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/guestgate"
	"github.com/ineyio/guestgate/store"
	"github.com/ineyio/guestgate/store/postgres"
	storeredis "github.com/ineyio/guestgate/store/redis"
	"github.com/ineyio/guestgate/store/sqlite"
)

// openedStore is a counter store plus how to release it.
type openedStore struct {
	guestgate.CounterStore
	close func() error
}

// sweeper returns the store as a Sweeper, if it is one.
func (o openedStore) sweeper() (guestgate.Sweeper, bool) {
	s, ok := o.CounterStore.(guestgate.Sweeper)
	return s, ok
}

func openStore(ctx context.Context, cfg StoreSettings) (openedStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return openedStore{CounterStore: store.NewMemoryStore(), close: func() error { return nil }}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return openedStore{}, fmt.Errorf("redis not available at %s: %w", cfg.RedisAddr, err)
		}
		return openedStore{
			CounterStore: storeredis.New(client, storeredis.WithKeyPrefix(cfg.KeyPrefix)),
			close:        client.Close,
		}, nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return openedStore{}, fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return openedStore{}, fmt.Errorf("pgxpool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return openedStore{}, fmt.Errorf("postgres not available: %w", err)
		}
		s := postgres.New(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return openedStore{}, err
		}
		return openedStore{CounterStore: s, close: func() error { pool.Close(); return nil }}, nil

	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{CounterStore: s, close: s.Close}, nil

	default:
		return openedStore{}, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
