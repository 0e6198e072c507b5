package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/market"
)

var at = time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC)

func price(v float64) *float64 { return &v }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(Config{Currency: "USD", Balance: 10_000})
	require.NoError(t, e.SetQuote("EURUSD", 1.1000, at))
	require.NoError(t, e.SetQuote("USDJPY", 150.00, at))
	return e
}

func TestCreateMarketOrderFillsAtQuote(t *testing.T) {
	e := NewEngine(Config{Balance: 10_000, SpreadPips: 2})
	require.NoError(t, e.SetQuote("EURUSD", 1.1000, at))

	long, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 10_000})
	require.NoError(t, err)
	assert.InDelta(t, 1.1001, long.Price, 1e-12, "long fills on ask")

	short, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: -10_000})
	require.NoError(t, err)
	assert.InDelta(t, 1.0999, short.Price, 1e-12, "short fills on bid")
	assert.NotEqual(t, long.TradeID, short.TradeID)

	open, err := e.OpenTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestCreateMarketOrderRejects(t *testing.T) {
	e := NewEngine(Config{Balance: 1000})

	_, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 1000})
	assert.True(t, errors.Is(err, broker.ErrOrderRejected))
	assert.True(t, errors.Is(err, broker.ErrNoPrice))

	_, err = e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 0})
	assert.True(t, errors.Is(err, broker.ErrOrderRejected))
	assert.Equal(t, 0, e.Orders())
}

func TestClientTagDeduplicates(t *testing.T) {
	e := newEngine(t)
	req := broker.MarketOrderRequest{Symbol: "EURUSD", Units: 1000, ClientTag: "c1|EURUSD|open|long"}

	a, err := e.CreateMarketOrder(context.Background(), req)
	require.NoError(t, err)
	b, err := e.CreateMarketOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, e.Orders())
}

func TestCloseTradeRealizesPL(t *testing.T) {
	e := newEngine(t)
	fill, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 10_000})
	require.NoError(t, err)

	require.NoError(t, e.SetQuote("EURUSD", 1.1050, at.Add(time.Hour)))
	acct, _ := e.GetAccount(context.Background())
	assert.InDelta(t, 50, acct.UnrealizedPL, 1e-6)
	assert.InDelta(t, 10_050, acct.Equity, 1e-6)

	c, err := e.CloseTrade(context.Background(), fill.TradeID, "")
	require.NoError(t, err)
	assert.Equal(t, broker.ReasonManual, c.Reason)
	assert.InDelta(t, 50, c.RealizedPL, 1e-6)

	acct, _ = e.GetAccount(context.Background())
	assert.InDelta(t, 10_050, acct.Balance, 1e-6)
	assert.Equal(t, 0, acct.OpenTrades)

	_, err = e.CloseTrade(context.Background(), fill.TradeID, "")
	assert.True(t, errors.Is(err, broker.ErrTradeAlreadyClosed))
	_, err = e.CloseTrade(context.Background(), "nope", "")
	assert.True(t, errors.Is(err, broker.ErrTradeNotFound))
}

func TestPLConvertsToAccountCurrency(t *testing.T) {
	e := newEngine(t)
	fill, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "USDJPY", Units: -10_000})
	require.NoError(t, err)

	// USDJPY falls one yen: a short gains 10,000 JPY = 10,000/149 USD.
	require.NoError(t, e.SetQuote("USDJPY", 149.00, at.Add(time.Hour)))
	c, err := e.CloseTrade(context.Background(), fill.TradeID, "signal")
	require.NoError(t, err)
	assert.InDelta(t, 10_000.0/149.0, c.RealizedPL, 1e-6)
}

func TestMarkTriggersStops(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	sl, err := e.CreateMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "EURUSD", Units: 10_000, StopLoss: price(1.0970), TakeProfit: price(1.1060)})
	require.NoError(t, err)
	tp, err := e.CreateMarketOrder(ctx, broker.MarketOrderRequest{Symbol: "EURUSD", Units: -10_000, StopLoss: price(1.1100), TakeProfit: price(1.0980)})
	require.NoError(t, err)

	closed := e.Mark(at.Add(time.Hour), map[string]market.Candle{
		"EURUSD": {Time: at.Add(time.Hour), Open: 1.1, High: 1.1010, Low: 1.0965, Close: 1.0990},
	})
	require.Len(t, closed, 2)

	byID := map[string]broker.Closed{closed[0].TradeID: closed[0], closed[1].TradeID: closed[1]}
	assert.Equal(t, broker.ReasonStopLoss, byID[sl.TradeID].Reason)
	assert.InDelta(t, -30, byID[sl.TradeID].RealizedPL, 1e-6)
	assert.Equal(t, broker.ReasonTakeProfit, byID[tp.TradeID].Reason)
	assert.InDelta(t, 20, byID[tp.TradeID].RealizedPL, 1e-6)

	got, err := e.GetTrade(ctx, sl.TradeID)
	require.NoError(t, err)
	assert.Equal(t, broker.TradeClosed, got.State)
}

func TestModifyTrade(t *testing.T) {
	e := newEngine(t)
	fill, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 1000})
	require.NoError(t, err)

	require.NoError(t, e.ModifyTrade(context.Background(), fill.TradeID, price(1.09), nil))
	tr, err := e.GetTrade(context.Background(), fill.TradeID)
	require.NoError(t, err)
	require.NotNil(t, tr.StopLoss)
	assert.Equal(t, 1.09, *tr.StopLoss)
	assert.Nil(t, tr.TakeProfit)

	assert.True(t, errors.Is(e.ModifyTrade(context.Background(), "x", nil, nil), broker.ErrTradeNotFound))
}

func TestRestore(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.Restore(9_500, []broker.Trade{
		{ID: "01J0000000000000000000000A", Symbol: "EURUSD", Units: 1000, EntryPrice: 1.09, OpenTime: at, ClientTag: "k"},
	}))

	acct, _ := e.GetAccount(context.Background())
	assert.Equal(t, 9_500.0, acct.Balance)
	assert.Equal(t, 1, acct.OpenTrades)
	assert.InDelta(t, 10, acct.UnrealizedPL, 1e-6)

	// The restored client tag is still deduplicated.
	fill, err := e.CreateMarketOrder(context.Background(), broker.MarketOrderRequest{Symbol: "EURUSD", Units: 1000, ClientTag: "k"})
	require.NoError(t, err)
	assert.Equal(t, "01J0000000000000000000000A", fill.TradeID)
}
