package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are the operator-side options: where the limits live, which
// store to talk to and how to log. The limits themselves are read by
// guestgate.LoadConfig.
type Settings struct {
	Config  string        `mapstructure:"config"`
	Store   StoreSettings `mapstructure:"store"`
	Log     LogSettings   `mapstructure:"log"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// StoreSettings selects and configures the counter store backend.
type StoreSettings struct {
	Backend       string `mapstructure:"backend"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

// LogSettings configures the slog handler.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.key_prefix", "guestgate:")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.sqlite_path", "guestgate.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", "")
}

// bindPersistentFlags registers the global flags and binds them to v.
func bindPersistentFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("config", "", "path to the limits YAML file (defaults apply when empty)")
	flags.String("store", "memory", "counter store backend: memory, redis, postgres, sqlite")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("postgres-dsn", "", "PostgreSQL connection string")
	flags.String("sqlite-path", "guestgate.db", "SQLite database file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console, json")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("store.backend", flags.Lookup("store"))
	_ = v.BindPFlag("store.redis_addr", flags.Lookup("redis-addr"))
	_ = v.BindPFlag("store.postgres_dsn", flags.Lookup("postgres-dsn"))
	_ = v.BindPFlag("store.sqlite_path", flags.Lookup("sqlite-path"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
}

// loadSettings resolves flags, GUESTGATE_* environment variables and
// defaults, in that order of precedence.
func loadSettings(v *viper.Viper) (Settings, error) {
	v.SetEnvPrefix("GUESTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return s, nil
}
