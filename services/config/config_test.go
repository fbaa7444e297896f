package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.False(t, Default().ClickHouse.Enabled())
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pinbar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: test
server:
  http_port: 8181
engine:
  max_workers: 2
strategy:
  symbol: ETHUSDT
  risk:
    risk_per_trade: 0.002
`), 0o644))

	t.Setenv("PINBAR_HTTP_PORT", "9090")
	t.Setenv("PINBAR_LOG_LEVEL", "debug")
	t.Setenv("PINBAR_STRATEGY__RISK__RISK_PER_TRADE", "0.01")
	t.Setenv("PINBAR_STRATEGY__SIGNAL__MIN_SCORE", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.GRPCPort)
	assert.Equal(t, 2, cfg.Engine.MaxWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ETHUSDT", cfg.Strategy.Symbol)
	assert.Equal(t, 0.01, cfg.Strategy.Risk.RiskPerTrade)
	assert.Equal(t, 4, cfg.Strategy.Signal.MinScore)
	// untouched strategy values keep their defaults
	assert.Equal(t, 0.02, cfg.Strategy.Risk.StopLossPct)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PINBAR_HTTP_PORT": "eighty"}, "PINBAR_HTTP_PORT"},
		{"unknown strategy key", map[string]string{"PINBAR_STRATEGY__RISK__NOPE": "1"}, "strategy env overrides"},
		{"bad strategy value", map[string]string{"PINBAR_STRATEGY__RISK__RISK_PER_TRADE": "0.5"}, "RiskPerTrade"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().applyEnv(tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Server.GRPCPort = cfg.Server.HTTPPort
	require.ErrorContains(t, cfg.Validate(), "GRPCPort")

	cfg = Default()
	cfg.ClickHouse.Addr = "localhost:9000"
	cfg.ClickHouse.TradeTable = ""
	require.ErrorContains(t, cfg.Validate(), "TradeTable")

	cfg = Default()
	cfg.Logging.Level = "verbose"
	require.ErrorContains(t, cfg.Validate(), "Level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinbar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_prot: 1\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_prot")
}
