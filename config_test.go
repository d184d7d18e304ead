package guestgate_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gg "github.com/ineyio/guestgate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guestgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, gg.DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("GUEST_IP_HOURLY", "7")
	path := writeConfig(t, `
global_daily_limit: 500
global_daily_cost_cap: 2.5
unit_cost: 0.004
ip_hourly_limit: ${GUEST_IP_HOURLY}
ip_daily_limit: 15
evaluate_timeout: 750ms
`)

	cfg, err := gg.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.GlobalDailyLimit)
	assert.InDelta(t, 2.5, cfg.GlobalDailyCostCap, 1e-9)
	assert.InDelta(t, 0.004, cfg.UnitCost, 1e-9)
	assert.Equal(t, int64(7), cfg.IPHourlyLimit)
	assert.Equal(t, int64(15), cfg.IPDailyLimit)
	assert.Equal(t, 750*time.Millisecond, cfg.EvaluateTimeout)

	// Omitted fields keep their defaults.
	def := gg.DefaultConfig()
	assert.Equal(t, def.FingerprintsPerIPLimit, cfg.FingerprintsPerIPLimit)
	assert.Equal(t, def.FingerprintDailyLimit, cfg.FingerprintDailyLimit)
	assert.Equal(t, def.MaxFileSize, cfg.MaxFileSize)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := gg.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_BadYAML(t *testing.T) {
	_, err := gg.LoadConfig(writeConfig(t, "ip_hourly_limit: [1, 2"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	_, err := gg.LoadConfig(writeConfig(t, "ip_daily_limit: -1\n"))
	require.ErrorIs(t, err, gg.ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*gg.Config)
	}{
		{"zero global limit", func(c *gg.Config) { c.GlobalDailyLimit = 0 }},
		{"negative cost cap", func(c *gg.Config) { c.GlobalDailyCostCap = -1 }},
		{"zero unit cost", func(c *gg.Config) { c.UnitCost = 0 }},
		{"unit cost below resolution", func(c *gg.Config) { c.UnitCost = 1e-9 }},
		{"unit cost above cap", func(c *gg.Config) { c.UnitCost = 20 }},
		{"hourly above daily", func(c *gg.Config) { c.IPHourlyLimit = 50 }},
		{"zero fingerprints per ip", func(c *gg.Config) { c.FingerprintsPerIPLimit = 0 }},
		{"zero device limit", func(c *gg.Config) { c.FingerprintDailyLimit = 0 }},
		{"zero file size", func(c *gg.Config) { c.MaxFileSize = 0 }},
		{"tiny ipv6 prefix", func(c *gg.Config) { c.IPv6PrefixLen = 8 }},
		{"negative timeout", func(c *gg.Config) { c.EvaluateTimeout = -time.Second }},
		{"cost cap beyond ledger range", func(c *gg.Config) { c.GlobalDailyCostCap = 1e13 }},
		{"infinite cost cap", func(c *gg.Config) { c.GlobalDailyCostCap = math.Inf(1) }},
		{"global limit overflows ledger", func(c *gg.Config) { c.GlobalDailyLimit = 1 << 62 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := gg.DefaultConfig()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), gg.ErrInvalidConfig)
		})
	}
}

func TestConfigValidate_LargestLedgerFits(t *testing.T) {
	cfg := gg.DefaultConfig()
	cfg.GlobalDailyCostCap = 9e12
	cfg.GlobalDailyLimit = math.MaxInt64 / gg.CostUnits(cfg.UnitCost)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, gg.CostUnits(9e12), gg.NewCostLedger(nil, cfg).Cap())
}
