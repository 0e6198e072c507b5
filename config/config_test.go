package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/market"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseLeadingFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"40", 40, true},
		{"40  # minutes", 40, true},
		{"11 (max)", 11, true},
		{"-5.0", -5, true},
		{" 0.05;spread", 0.05, true},
		{"1e2", 100, true},
		{"abc", 0, false},
		{"", 0, false},
		{"# 40", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLeadingFloat(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestParseLeadingInt(t *testing.T) {
	n, ok := ParseLeadingInt("6.9 positions")
	require.True(t, ok)
	assert.Equal(t, 6, n)

	_, ok = ParseLeadingInt("six")
	assert.False(t, ok)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 40, c.Trading.CyclePeriodMinutes.Value())
	assert.Equal(t, 11, c.Trading.MaxConcurrentPositions.Value())
	assert.Equal(t, 6, c.Trading.TargetPositionsWhenAvailable.Value())
	assert.Equal(t, 5, c.Trading.MinPositionsForSession.Value())
	assert.InDelta(t, -0.05, c.Trading.EquityStop(), 1e-12)
	assert.Equal(t, []string(DefaultCurrencies), []string(c.Trading.Currencies))
	assert.Len(t, c.Trading.Universe(), 28)
	assert.Equal(t, "synthetic", c.Data.Source)
	assert.Equal(t, "paper", c.Broker.Type)
	assert.Equal(t, "rule", c.Roles.Strategy)
	assert.Equal(t, "memory", c.Cache.Type)

	bars, err := c.Data.TimeframeBars()
	require.NoError(t, err)
	assert.Equal(t, 240, bars[market.M5])
	assert.Equal(t, 100, bars[market.D1])
}

func TestLoadYAMLToleratesAnnotations(t *testing.T) {
	path := writeFile(t, "ufo.yaml", `
trading:
  cycle_period_minutes: "40 # minutes"
  max_concurrent_positions: "11 (max)"
  target_positions_when_available: not-a-number
  portfolio_equity_stop: -5
  currencies: "eur, usd ,jpy"
data:
  source: synthetic
  timeframes:
    H1: "30 bars"
`)
	c, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 40, c.Trading.CyclePeriodMinutes.Value())
	assert.Equal(t, 11, c.Trading.MaxConcurrentPositions.Value())
	assert.Equal(t, DefaultTargetPositions, c.Trading.TargetPositionsWhenAvailable.Value(), "unparseable falls back to default")
	assert.InDelta(t, -0.05, c.Trading.EquityStop(), 1e-12)
	assert.Equal(t, []string{"EUR", "USD", "JPY"}, []string(c.Trading.Currencies))
	assert.Equal(t, []string{"EURUSD", "EURJPY", "USDJPY"}, c.Trading.Universe())

	bars, err := c.Data.TimeframeBars()
	require.NoError(t, err)
	assert.Equal(t, map[market.Timeframe]int{market.H1: 30}, bars)
}

func TestLoadJSONFallback(t *testing.T) {
	path := writeFile(t, "ufo.conf", `{"trading": {"cycle_period_minutes": 15, "currencies": ["GBP", "CHF"]}, "broker": {"starting_balance": "2500"}}`)
	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 15, c.Trading.CyclePeriodMinutes.Value())
	assert.Equal(t, []string{"GBPCHF"}, c.Trading.Universe())
	assert.Equal(t, 2500.0, c.Broker.StartingBalance.Value())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "ufo.toml", `
[trading]
cycle_period_minutes = 20
portfolio_equity_stop = "-0.08 fraction"
symbols = ["EUR_USD", "GBP/JPY"]

[data]
source = "synthetic"
[data.timeframes]
M15 = 50
`)
	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 20, c.Trading.CyclePeriodMinutes.Value())
	assert.InDelta(t, -0.08, c.Trading.EquityStop(), 1e-12)
	assert.Equal(t, []string{"EURUSD", "GBPJPY"}, c.Trading.Universe())
	bars, err := c.Data.TimeframeBars()
	require.NoError(t, err)
	assert.Equal(t, 50, bars[market.M15])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("UFO_OANDA_TOKEN", "tok")
	t.Setenv("UFO_OANDA_ACCOUNT", "101-001")
	t.Setenv("UFO_REDIS_URL", "redis://localhost:6379/0")

	path := writeFile(t, "ufo.yaml", "broker:\n  type: oanda\ncache:\n  type: redis\n")
	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Broker.Token)
	assert.Equal(t, "101-001", c.Broker.AccountID)
	assert.Equal(t, "redis://localhost:6379/0", c.Cache.RedisURL)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("UFO_LLM_API_KEY", "sk-test")
	t.Setenv("UFO_POSTGRES_DSN", "postgres://ufo@localhost/ufo")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", c.Data.Source)
	assert.Equal(t, "sk-test", c.Roles.LLM.APIKey)
	assert.Equal(t, "postgres://ufo@localhost/ufo", c.Journal.PostgresDSN)
	assert.Equal(t, "./ufo.db", c.Journal.SQLitePath)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad source", func(c *Config) { c.Data.Source = "yahoo" }},
		{"csv without dir", func(c *Config) { c.Data.Source = "csv" }},
		{"oanda broker without token", func(c *Config) { c.Broker.Type = "oanda" }},
		{"bad strategy", func(c *Config) { c.Roles.Strategy = "magic" }},
		{"bad override", func(c *Config) { c.Roles.Overrides = map[string]string{"trader": "magic"} }},
		{"bad normalization", func(c *Config) { c.Trading.Normalization = "median" }},
		{"zero period", func(c *Config) { c.Trading.CyclePeriodMinutes = IntOf(0) }},
		{"bad symbol", func(c *Config) { c.Trading.Symbols = List{"EUREUR"} }},
		{"one bar timeframe", func(c *Config) { c.Data.Timeframes = map[string]Int{"H1": IntOf(1)} }},
		{"redis without url", func(c *Config) { c.Cache.Type = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestEquityStopNormalization(t *testing.T) {
	for raw, want := range map[float64]float64{-0.05: -0.05, 0.05: -0.05, -5: -0.05, 10: -0.1} {
		tc := TradingConfig{PortfolioEquityStop: FloatOf(raw)}
		assert.InDelta(t, want, tc.EquityStop(), 1e-12, "raw %v", raw)
	}
}

func TestEquityStopUnit(t *testing.T) {
	tests := []struct {
		raw  float64
		unit string
		want float64
	}{
		{-1, "", -1},
		{-1, "percent", -0.01},
		{-0.5, "percent", -0.005},
		{-5, "percent", -0.05},
		{-5, "fraction", -5},
		{-0.05, "fraction", -0.05},
	}
	for _, tt := range tests {
		tc := TradingConfig{PortfolioEquityStop: FloatOf(tt.raw), PortfolioEquityStopUnit: tt.unit}
		assert.InDelta(t, tt.want, tc.EquityStop(), 1e-12, "raw %v unit %q", tt.raw, tt.unit)
	}
}

func TestWarningsFlagAmbiguousEquityStop(t *testing.T) {
	c := Default()
	assert.Empty(t, c.Warnings())

	c.Trading.PortfolioEquityStop = FloatOf(-1)
	w := c.Warnings()
	require.Len(t, w, 1)
	assert.Contains(t, w[0], "portfolio_equity_stop_unit")

	c.Trading.PortfolioEquityStopUnit = "percent"
	assert.Empty(t, c.Warnings())
}

func TestValidateRejectsUnknownStopUnit(t *testing.T) {
	c := Default()
	c.Trading.PortfolioEquityStopUnit = "basis-points"
	assert.Error(t, c.Validate())
}

func TestStrategyFor(t *testing.T) {
	r := RolesConfig{Strategy: "rule", Overrides: map[string]string{"trader": "llm"}}
	assert.Equal(t, "llm", r.StrategyFor("Trader"))
	assert.Equal(t, "rule", r.StrategyFor("RiskManager"))
}

func TestSaveAndReload(t *testing.T) {
	c := Default()
	c.Trading.CyclePeriodMinutes = IntOf(25)

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, c.SaveToFile(path))
		got, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 25, got.Trading.CyclePeriodMinutes.Value())
		assert.Len(t, got.Trading.Universe(), 28)
	}
}
