package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeLimits(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidate_PrintsEffectiveLimits(t *testing.T) {
	path := writeLimits(t, `
global_daily_limit: 500
global_daily_cost_cap: 2.5
unit_cost: 0.01
ip_hourly_limit: 4
ip_daily_limit: 8
`)

	out, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "global_daily_limit:        500\n")
	assert.Contains(t, out, "effective ledger cap:      2.500000 (2500000 units)\n")
	assert.Contains(t, out, "ip_hourly_limit:           4\n")
	assert.Contains(t, out, "fingerprint_daily_limit:   3 (advisory)\n")
}

func TestValidate_DefaultsWithoutConfig(t *testing.T) {
	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "global_daily_limit:        1000\n")
}

func TestValidate_RejectsInvalidLimits(t *testing.T) {
	path := writeLimits(t, "ip_hourly_limit: 50\nip_daily_limit: 10\n")

	out, err := run(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestValidate_RejectsLedgerOverflow(t *testing.T) {
	path := writeLimits(t, "global_daily_cost_cap: 1e13\n")

	_, err := run(t, "validate", "--config", path)
	require.Error(t, err)
}

func TestEvaluate_MemoryStore(t *testing.T) {
	out, err := run(t, "evaluate", "--ip", "203.0.113.7", "--fingerprint", "device-1")
	require.NoError(t, err)
	assert.Contains(t, out, "admitted:  true\n")
	assert.Contains(t, out, "device:    1 / 3 (soft)\n")
}

func TestEvaluate_InvalidSignals(t *testing.T) {
	out, err := run(t, "evaluate", "--ip", "0.0.0.0/0", "--fingerprint", "device-1")
	require.NoError(t, err)
	assert.Contains(t, out, "admitted:  false\n")
	assert.Contains(t, out, "reason:    invalid_signals\n")
}

func TestEvaluate_RequiresFlags(t *testing.T) {
	_, err := run(t, "evaluate", "--ip", "203.0.113.7")
	require.Error(t, err)
}

func TestEvaluateThenUsage_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "guestgate.db")
	store := []string{"--store", "sqlite", "--sqlite-path", db}

	for _, fp := range []string{"device-1", "device-2"} {
		out, err := run(t, append([]string{"evaluate", "--ip", "203.0.113.7", "--fingerprint", fp, "--items", "3"}, store...)...)
		require.NoError(t, err)
		require.Contains(t, out, "admitted:  true\n")
	}

	out, err := run(t, append([]string{"usage", "--ip", "203.0.113.7"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger:       0.060000 / 10.000000\n")
	assert.Contains(t, out, "ip:           203.0.113.7\n")
	assert.Contains(t, out, "daily:        2 / 20\n")
	assert.Contains(t, out, "fingerprints: 2 / 5\n")
}

func TestUsage_WithoutIP(t *testing.T) {
	out, err := run(t, "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "ledger:       0.000000 / 10.000000\n")
	assert.NotContains(t, out, "ip:")
}

func TestSweep_Once(t *testing.T) {
	out, err := run(t, "sweep", "--once")
	require.NoError(t, err)
	assert.Equal(t, "removed: 0\n", out)
}

func TestSweep_InvalidSchedule(t *testing.T) {
	_, err := run(t, "sweep", "--schedule", "whenever")
	require.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := run(t, "usage", "--store", "etcd")
	require.ErrorContains(t, err, `unknown store backend "etcd"`)
}

func TestLoadSettings_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("GUESTGATE_STORE_BACKEND", "sqlite")
	t.Setenv("GUESTGATE_LOG_LEVEL", "debug")

	v := viper.New()
	setDefaults(v)
	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Store.Backend)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "guestgate:", s.Store.KeyPrefix)
}

func TestLoadSettings_FlagBeatsEnv(t *testing.T) {
	t.Setenv("GUESTGATE_STORE_BACKEND", "etcd")

	out, err := run(t, "sweep", "--once", "--store", "memory")
	require.NoError(t, err)
	assert.Equal(t, "removed: 0\n", out)
}
