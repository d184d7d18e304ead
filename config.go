package guestgate

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the guest-tier limits. It is loaded once at process start
// and treated as immutable afterwards.
type Config struct {
	// GlobalDailyLimit caps admissions per UTC day across all guests.
	GlobalDailyLimit int64 `yaml:"global_daily_limit" validate:"gt=0"`
	// GlobalDailyCostCap caps estimated spend per UTC day, in currency units.
	GlobalDailyCostCap float64 `yaml:"global_daily_cost_cap" validate:"gt=0"`
	// UnitCost is the estimated cost of one guest-tier item, in currency units.
	UnitCost float64 `yaml:"unit_cost" validate:"gt=0"`

	IPHourlyLimit          int64 `yaml:"ip_hourly_limit" validate:"gt=0"`
	IPDailyLimit           int64 `yaml:"ip_daily_limit" validate:"gt=0"`
	FingerprintsPerIPLimit int64 `yaml:"fingerprints_per_ip_limit" validate:"gt=0"`
	// FingerprintDailyLimit is advisory; it never rejects.
	FingerprintDailyLimit int64 `yaml:"fingerprint_daily_limit" validate:"gt=0"`

	// MaxFileSize is validated by the upload layer, not by the engine.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gt=0"`

	IPv6PrefixLen   int           `yaml:"ipv6_prefix_len" validate:"omitempty,min=16,max=128"`
	EvaluateTimeout time.Duration `yaml:"evaluate_timeout" validate:"gte=0"`
}

// DefaultConfig returns a conservative guest-tier configuration.
func DefaultConfig() Config {
	return Config{
		GlobalDailyLimit:       1000,
		GlobalDailyCostCap:     10,
		UnitCost:               0.01,
		IPHourlyLimit:          10,
		IPDailyLimit:           20,
		FingerprintsPerIPLimit: 5,
		FingerprintDailyLimit:  3,
		MaxFileSize:            10 << 20,
		IPv6PrefixLen:          DefaultIPv6PrefixLen,
		EvaluateTimeout:        2 * time.Second,
	}
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("guestgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("guestgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that every limit is positive and that the limits are
// consistent with each other.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if CostUnits(c.UnitCost) <= 0 {
		return fmt.Errorf("%w: unit_cost %.9f is below the ledger resolution", ErrInvalidConfig, c.UnitCost)
	}
	if c.GlobalDailyCostCap >= maxCurrency {
		return fmt.Errorf("%w: global_daily_cost_cap %g exceeds the ledger range", ErrInvalidConfig, c.GlobalDailyCostCap)
	}
	if c.GlobalDailyLimit > math.MaxInt64/CostUnits(c.UnitCost) {
		return fmt.Errorf("%w: global_daily_limit %d at unit_cost %.6f exceeds the ledger range",
			ErrInvalidConfig, c.GlobalDailyLimit, c.UnitCost)
	}
	if c.UnitCost > c.GlobalDailyCostCap {
		return fmt.Errorf("%w: unit_cost %.6f exceeds global_daily_cost_cap %.6f; nothing could be admitted",
			ErrInvalidConfig, c.UnitCost, c.GlobalDailyCostCap)
	}
	if c.IPHourlyLimit > c.IPDailyLimit {
		return fmt.Errorf("%w: ip_hourly_limit %d exceeds ip_daily_limit %d",
			ErrInvalidConfig, c.IPHourlyLimit, c.IPDailyLimit)
	}
	return nil
}

// ipv6Prefix returns the configured IPv6 grouping prefix.
func (c Config) ipv6Prefix() int {
	if c.IPv6PrefixLen == 0 {
		return DefaultIPv6PrefixLen
	}
	return c.IPv6PrefixLen
}
