package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  env: test
data:
  root: /tmp/marlin-test/candles
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)

	assert.Equal(t, "5m", cfg.Backtest.ExecutionTimeframe)
	assert.Equal(t, []string{"5m", "15m", "1h", "4h"}, cfg.Backtest.Timeframes)
	assert.InDelta(t, 10000.0, cfg.Backtest.InitialEquity, 1e-9)
	assert.InDelta(t, 0.0004, cfg.Backtest.FeeRate, 1e-12)

	assert.InDelta(t, 0.01, cfg.Risk.RiskFraction, 1e-12)
	assert.InDelta(t, 0.02, cfg.Risk.MaxRiskFraction, 1e-12)
	assert.Equal(t, 10, cfg.Risk.Leverage)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)

	assert.ElementsMatch(t,
		[]string{"breakout", "pullback", "meanrev", "momentum", "fundingarb", "structure"},
		cfg.Strategies.Enabled)
	assert.Equal(t, "1h", cfg.Strategies.TrendTimeframe)

	assert.InDelta(t, 60.0, cfg.Filters.Threshold, 1e-9)
	assert.InDelta(t, -1.0, cfg.Filters.CorrelationMin, 1e-9)

	src := cfg.Market.ResolveActiveSource()
	assert.Equal(t, "binance", src.Name)
	assert.Equal(t, "https://fapi.binance.com", src.RESTBaseURL)
}

func TestLoadExplicitZeroSurvivesDefaulting(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+`
filters:
  correlation_min: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Filters.CorrelationMin, "an explicit zero must not be replaced by the default")
}

func TestLoadIncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
data:
  root: /tmp/marlin-test/candles
risk:
  leverage: 20
backtest:
  initial_equity: 5000
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
risk:
  leverage: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// The including file wins on conflicts, the included one fills the rest.
	assert.Equal(t, 5, cfg.Risk.Leverage)
	assert.InDelta(t, 5000.0, cfg.Backtest.InitialEquity, 1e-9)
	assert.Equal(t, "/tmp/marlin-test/candles", cfg.Data.Root)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "cycle")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "risk fraction out of range",
			extra:   "risk:\n  risk_fraction: 0.5\n  max_risk_fraction: 0.6\n",
			wantErr: "risk.risk_fraction",
		},
		{
			name:    "max below base risk",
			extra:   "risk:\n  risk_fraction: 0.05\n  max_risk_fraction: 0.01\n",
			wantErr: "max_risk_fraction",
		},
		{
			name:    "leverage out of range",
			extra:   "risk:\n  leverage: 200\n",
			wantErr: "risk.leverage",
		},
		{
			name:    "unknown strategy variant",
			extra:   "strategies:\n  enabled: [breakout, martingale]\n",
			wantErr: "unknown variant",
		},
		{
			name:    "duplicate strategy variant",
			extra:   "strategies:\n  enabled: [breakout, breakout]\n",
			wantErr: "twice",
		},
		{
			name:    "bad execution timeframe",
			extra:   "backtest:\n  execution_timeframe: 7m\n",
			wantErr: "unsupported timeframe",
		},
		{
			name:    "blocked hour out of range",
			extra:   "filters:\n  blocked_hours: [3, 24]\n",
			wantErr: "blocked_hours",
		},
		{
			name:    "volatility band inverted",
			extra:   "filters:\n  volatility_min: 90\n  volatility_max: 10\n",
			wantErr: "volatility_min",
		},
		{
			name:    "live enabled without symbol",
			extra:   "live:\n  enabled: true\n",
			wantErr: "live.symbol",
		},
		{
			name:    "telegram enabled without token",
			extra:   "notify:\n  telegram:\n    enabled: true\n",
			wantErr: "telegram",
		},
		{
			name:    "confidence bands out of order",
			extra:   "risk:\n  confidence_bands:\n    - min_score: 50\n      multiplier: 1.0\n    - min_score: 80\n      multiplier: 1.2\n",
			wantErr: "descending",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", minimalConfig+tc.extra)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestResolveActiveSource(t *testing.T) {
	m := MarketConfig{
		ActiveSource: "backup",
		Sources: []MarketSource{
			{Name: "binance", Enabled: true, RESTBaseURL: "https://fapi.binance.com"},
			{Name: "backup", Enabled: true, RESTBaseURL: "https://backup.example.com"},
		},
	}
	assert.Equal(t, "backup", m.ResolveActiveSource().Name)

	m.ActiveSource = ""
	assert.Equal(t, "binance", m.ResolveActiveSource().Name)

	m.Sources[0].Enabled = false
	assert.Equal(t, "backup", m.ResolveActiveSource().Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
