package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/market"
)

var end = time.Date(2025, 7, 31, 10, 20, 0, 0, time.UTC)

func TestFetchBarsShape(t *testing.T) {
	s := New(42)
	got, err := s.FetchBars(context.Background(), "EURUSD", market.M15, 80, &end)
	require.NoError(t, err)
	require.Equal(t, 80, got.Len())

	last, _ := got.Last()
	assert.False(t, last.Time.Add(15*time.Minute).After(end), "last bar must be complete at end")
	for i, c := range got.Candles {
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		assert.InDelta(t, 1.08, c.Close, 0.1)
		if i > 0 {
			assert.Equal(t, 15*time.Minute, c.Time.Sub(got.Candles[i-1].Time))
		}
	}
}

func TestDeterministicAcrossWindows(t *testing.T) {
	a, err := New(7).FetchBars(context.Background(), "GBPJPY", market.H1, 10, &end)
	require.NoError(t, err)

	later := end.Add(3 * time.Hour)
	b, err := New(7).FetchBars(context.Background(), "GBPJPY", market.H1, 13, &later)
	require.NoError(t, err)

	// b's first 10 bars are a's window.
	assert.Equal(t, a.Candles, b.Candles[:10])

	c, err := New(8).FetchBars(context.Background(), "GBPJPY", market.H1, 10, &end)
	require.NoError(t, err)
	assert.NotEqual(t, a.Closes(), c.Closes())
}

func TestCrossesAreConsistent(t *testing.T) {
	s := New(1)
	at := end
	eurusd := s.Price(market.Pair{Base: "EUR", Quote: "USD"}, at)
	usdjpy := s.Price(market.Pair{Base: "USD", Quote: "JPY"}, at)
	eurjpy := s.Price(market.Pair{Base: "EUR", Quote: "JPY"}, at)
	assert.InDelta(t, eurjpy, eurusd*usdjpy, 1e-9*eurjpy)
}

func TestFetchBarsRejectsBadSymbol(t *testing.T) {
	_, err := New(1).FetchBars(context.Background(), "XX", market.H1, 5, &end)
	assert.Error(t, err)
}
