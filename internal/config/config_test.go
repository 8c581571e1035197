package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRequiresWalletAndRelayForLiveTrading(t *testing.T) {
	cfg := Defaults()
	cfg.Trade.Simulated = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet_address")
	assert.Contains(t, err.Error(), "relay_host")

	cfg.Solana.WalletAddress = "WalletAAA"
	cfg.Solana.RelayHost = "https://relay.example.com"
	assert.NoError(t, cfg.Validate())

	// Monitor mode never trades, so paper settings are enough.
	cfg = Defaults()
	cfg.Trade.Simulated = false
	cfg.Mode = "monitor"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	cfg.Executor.MaxConcurrent = 0
	cfg.Strategy.StopLossPct = 150

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "executor: max_concurrent")
	assert.Contains(t, err.Error(), "stop_loss_pct")
}

func TestValidateRejectsUnorderedTakeProfits(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.TakeProfits = []TakeProfitConfig{
		{TriggerMultiplier: 3.0, SellPct: 50},
		{TriggerMultiplier: 2.0, SellPct: 50},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly ascending")
}

func TestValidateRejectsFullSellOnNonFinalRung(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.TakeProfits = []TakeProfitConfig{
		{TriggerMultiplier: 2.0, SellPct: 100},
		{TriggerMultiplier: 3.0, SellPct: 50},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "later rungs remain")

	// Selling everything on the last rung stays legal.
	cfg.Strategy.TakeProfits[0].SellPct = 50
	cfg.Strategy.TakeProfits[1].SellPct = 100
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"
log_level = "debug"

[executor]
max_concurrent = 4
lease_ttl = "90s"

[sizing]
base_position_pct = 2.5

[strategy]
stop_loss_pct = 40
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.Executor.LeaseTTL.Duration)
	assert.Equal(t, 2.5, cfg.Sizing.BasePositionPct)
	assert.Equal(t, 40.0, cfg.Strategy.StopLossPct)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	require.Len(t, cfg.Strategy.TakeProfits, 2)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[redis]
addr = "redis-file:6379"
`), 0o600))

	t.Setenv("COPYBOT_REDIS_ADDR", "redis-env:6379")
	t.Setenv("COPYBOT_EXECUTOR_MAX_CONCURRENT", "8")
	t.Setenv("COPYBOT_MONITOR_INTERVAL", "10s")
	t.Setenv("COPYBOT_TRADE_SIMULATED", "false")
	t.Setenv("COPYBOT_SOLANA_RELAY_API_KEY", "secret-key")
	t.Setenv("COPYBOT_NOTIFY_EVENTS", "alert_critical, position_closed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis-env:6379", cfg.Redis.Addr, "env overrides beat the file")
	assert.Equal(t, 8, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval.Duration)
	assert.False(t, cfg.Trade.Simulated)
	assert.Equal(t, "secret-key", cfg.Solana.RelayAPIKey)
	assert.Equal(t, []string{"alert_critical", "position_closed"}, cfg.Notify.Events)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
