package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/broker/paper"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/roles"
)

var t0 = time.Date(2025, 7, 31, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, mid market.MidFunc) (*Executor, *paper.Engine, *portfolio.Manager) {
	t.Helper()
	eng := paper.NewEngine(paper.Config{Balance: 10000})
	require.NoError(t, eng.SetQuote("EURUSD", 1.1, t0))
	require.NoError(t, eng.SetQuote("USDJPY", 150, t0))
	pf := portfolio.New(10000)
	return New(eng, pf, Config{Timeout: time.Second, Mid: mid}, zerolog.Nop()), eng, pf
}

func mids(m map[string]float64) market.MidFunc {
	return func(s string) (float64, bool) {
		v, ok := m[s]
		return v, ok
	}
}

func openEURUSD() roles.Decision {
	return roles.Decision{Role: roles.Trader, Action: roles.Open, Symbol: "EURUSD", Direction: market.Long, Size: 0.1, StopPips: 30, TargetPips: 60}
}

func TestOpenFillsAndUpdatesPortfolio(t *testing.T) {
	t.Parallel()

	ex, eng, pf := setup(t, mids(map[string]float64{"EURUSD": 1.1}))
	res := ex.Execute(context.Background(), "C1", openEURUSD())

	require.Equal(t, Filled, res.Status, res.Error)
	assert.NoError(t, res.Err())
	assert.Equal(t, "C1|EURUSD|open|long", res.Key)
	assert.NotEmpty(t, res.BrokerRef)
	assert.Equal(t, 1.1, res.FilledPrice)
	require.NotNil(t, res.Opened)

	require.Equal(t, 1, pf.Count())
	p, ok := pf.Get(res.BrokerRef)
	require.True(t, ok)
	assert.Equal(t, 10000.0, p.Units)
	assert.Equal(t, market.Long, p.Direction)
	assert.InDelta(t, 1.097, *p.StopLoss, 1e-9)
	assert.InDelta(t, 1.106, *p.TakeProfit, 1e-9)
	assert.Equal(t, res.Key, p.ClientTag)

	bt, err := eng.GetTrade(context.Background(), res.BrokerRef)
	require.NoError(t, err)
	assert.InDelta(t, 1.097, *bt.StopLoss, 1e-9)
	assert.Equal(t, 10000.0, bt.Units)
}

func TestExecuteIsIdempotentWithinCycle(t *testing.T) {
	t.Parallel()

	ex, eng, pf := setup(t, nil)
	a := ex.Execute(context.Background(), "C1", openEURUSD())
	b := ex.Execute(context.Background(), "C1", openEURUSD())

	assert.Equal(t, a, b)
	assert.Equal(t, 1, eng.Orders())
	assert.Equal(t, 1, pf.Count())
}

func TestShortStopsFromFillWhenUnpriced(t *testing.T) {
	t.Parallel()

	ex, eng, pf := setup(t, nil)
	d := roles.Decision{Role: roles.Trader, Action: roles.Open, Symbol: "USDJPY", Direction: market.Short, Size: 0.2, StopPips: 30, TargetPips: 60}
	res := ex.Execute(context.Background(), "C1", d)
	require.Equal(t, Filled, res.Status, res.Error)

	p, _ := pf.Get(res.BrokerRef)
	assert.Equal(t, market.Short, p.Direction)
	assert.Equal(t, 20000.0, p.Units)
	assert.InDelta(t, 150.30, *p.StopLoss, 1e-9)
	assert.InDelta(t, 149.40, *p.TakeProfit, 1e-9)

	bt, _ := eng.GetTrade(context.Background(), res.BrokerRef)
	assert.Equal(t, -20000.0, bt.Units)
	assert.InDelta(t, 150.30, *bt.StopLoss, 1e-9)
}

func TestBrokerRejectionLeavesPortfolioAlone(t *testing.T) {
	t.Parallel()

	ex, _, pf := setup(t, nil)
	d := openEURUSD()
	d.Symbol = "GBPUSD" // no quote
	res := ex.Execute(context.Background(), "C1", d)

	assert.Equal(t, Rejected, res.Status)
	assert.True(t, errors.Is(res.Err(), ErrExecution))
	assert.Contains(t, res.Error, "no price")
	assert.Zero(t, pf.Count())

	d = openEURUSD()
	d.Size = 0
	assert.Equal(t, Rejected, ex.Execute(context.Background(), "C1", d).Status)
}

type flakyBroker struct {
	*paper.Engine
	err error
}

func (f *flakyBroker) CreateMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderFill, error) {
	return broker.OrderFill{}, f.err
}

func TestBrokerErrorAndCancellation(t *testing.T) {
	t.Parallel()

	eng := paper.NewEngine(paper.Config{Balance: 10000})
	require.NoError(t, eng.SetQuote("EURUSD", 1.1, t0))
	pf := portfolio.New(10000)
	ex := New(&flakyBroker{Engine: eng, err: errors.New("connection reset")}, pf, Config{}, zerolog.Nop())

	res := ex.Execute(context.Background(), "C1", openEURUSD())
	assert.Equal(t, Errored, res.Status)
	assert.Zero(t, pf.Count())

	ex = New(eng, pf, Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = ex.Execute(ctx, "C2", openEURUSD())
	assert.Equal(t, Errored, res.Status)
	assert.Zero(t, pf.Count())
	assert.Zero(t, eng.Orders())
}

func TestCloseAndAdjust(t *testing.T) {
	t.Parallel()

	ex, eng, pf := setup(t, nil)
	open := openEURUSD()
	open.StopPips, open.TargetPips = 0, 0
	opened := ex.Execute(context.Background(), "C1", open)
	require.Equal(t, Filled, opened.Status)
	p, _ := pf.Get(opened.BrokerRef)
	assert.Nil(t, p.StopLoss)

	adj := ex.Execute(context.Background(), "C2", roles.Decision{Role: roles.RiskManager, Action: roles.Adjust, Symbol: "EURUSD", StopPips: 20})
	require.Equal(t, Filled, adj.Status, adj.Error)
	p, _ = pf.Get(opened.BrokerRef)
	require.NotNil(t, p.StopLoss)
	assert.InDelta(t, 1.098, *p.StopLoss, 1e-9)
	assert.Nil(t, p.TakeProfit)

	require.NoError(t, eng.SetQuote("EURUSD", 1.1010, t0.Add(time.Hour)))
	cl := ex.Execute(context.Background(), "C3", roles.Decision{Role: roles.RiskManager, Action: roles.Close, Symbol: "EURUSD"})
	require.Equal(t, Filled, cl.Status, cl.Error)
	require.Len(t, cl.Closed, 1)
	assert.Equal(t, roles.RiskManager, cl.Closed[0].Report.Reason)
	assert.InDelta(t, 10, cl.Closed[0].Report.RealizedPL, 1e-6)
	assert.Equal(t, 1.101, cl.FilledPrice)
	assert.Zero(t, pf.Count())
	assert.InDelta(t, 10010, pf.Balance(), 1e-6)

	again := ex.Execute(context.Background(), "C4", roles.Decision{Action: roles.Close, Symbol: "EURUSD"})
	assert.Equal(t, Rejected, again.Status)
	assert.Equal(t, Rejected, ex.Execute(context.Background(), "C4", roles.Decision{Action: roles.Adjust, Symbol: "EURUSD", StopPips: 5}).Status)
}

func TestCloseReportsBrokerDisagreement(t *testing.T) {
	t.Parallel()

	ex, _, pf := setup(t, nil)
	require.NoError(t, pf.ApplyFill(portfolio.Position{ID: "ghost", Symbol: "EURUSD", Direction: market.Long, Units: 1000, EntryPrice: 1.1, EntryTime: t0}))

	res := ex.Execute(context.Background(), "C1", roles.Decision{Action: roles.Close, Symbol: "EURUSD"})
	assert.Equal(t, Errored, res.Status)
	assert.Contains(t, res.Error, "trade not found")
	assert.Equal(t, 1, pf.Count(), "portfolio keeps what the broker did not confirm")
}
