package agent

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/config"
	"github.com/rustyeddy/ufoagent/cycle"
	"github.com/rustyeddy/ufoagent/journal"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Journal.TextPath = filepath.Join(dir, "run.log")
	cfg.Journal.SQLitePath = filepath.Join(dir, "ufo.db")
	cfg.Trading.Currencies = config.List{"EUR", "USD", "JPY", "GBP"}
	cfg.Data.Timeframes = map[string]config.Int{"H1": config.IntOf(20), "H4": config.IntOf(20)}
	return cfg
}

func TestBuildRunsCycle(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := Build(ctx, cfg, Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "synthetic", a.Source.Name())
	assert.Len(t, a.Limits.Symbols, 6)

	ref := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	rec, err := a.Orchestrator.RunCycle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, cycle.Idle, rec.State)
	assert.Contains(t, []string{cycle.OutcomeOK, cycle.OutcomeDegraded}, rec.Outcome)
	assert.Equal(t, 1, a.Session.Cycles)
}

func TestBuildRestoresPaperAccount(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Seed the journal as a previous run would have left it.
	store, err := journal.NewSQLite(cfg.Journal.SQLitePath)
	require.NoError(t, err)
	sl := 1.0970
	require.NoError(t, store.RecordTrade(ctx, journal.TradeRecord{
		TradeID: "T1", Cycle: "C1", Symbol: "EURUSD", Direction: "long",
		Units: 10000, EntryPrice: 1.1, StopLoss: &sl,
		OpenTime: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.RecordEquity(ctx, journal.EquitySnapshot{
		Time: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), Balance: 10250, Equity: 10250, OpenPositions: 1,
	}))
	require.NoError(t, store.Close())

	a, err := Build(ctx, cfg, Options{}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	pf := a.Session.Portfolio
	require.Equal(t, 1, pf.Count())
	p, ok := pf.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "EURUSD", p.Symbol)
	assert.Equal(t, 10250.0, pf.Balance())

	open, err := a.Broker.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 10000.0, open[0].Units)
}

func TestBuildFreshSkipsDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "ufo.db")
	var buf bytes.Buffer

	a, err := Build(context.Background(), cfg, Options{Fresh: true, Text: &buf}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 0, a.Session.Portfolio.Count())
	assert.Equal(t, 10000.0, a.Session.Portfolio.Balance())
}

func TestBuildSurvivesTakenMetricsAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.App.MetricsAddr = ln.Addr().String()
	a, err := Build(context.Background(), cfg, Options{Fresh: true, Text: &bytes.Buffer{}}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}

func TestBuildRejectsUnknownSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Source = "bloomberg"
	_, err := Build(context.Background(), cfg, Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bloomberg")
}

func TestNewSourceCSVNeedsDir(t *testing.T) {
	_, err := NewSource(config.DataConfig{Source: "csv"}, nil)
	require.Error(t, err)

	_, err = NewSource(config.DataConfig{Source: "oanda"}, nil)
	require.Error(t, err)

	src, err := NewSource(config.DataConfig{Source: "csv", CSVDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "csv", src.Name())
}
