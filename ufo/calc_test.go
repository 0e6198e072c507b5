package ufo

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/market"
)

var t0 = time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)

func series(sym string, tf market.Timeframe, closes ...float64) market.Series {
	cs := make([]market.Candle, len(closes))
	for i, c := range closes {
		cs[i] = market.Candle{Time: t0.Add(time.Duration(i) * tf.Duration()), Open: c, High: c, Low: c, Close: c}
	}
	return market.NewSeries(sym, tf, cs)
}

func TestPercentageVariation(t *testing.T) {
	t.Parallel()

	v, err := PercentageVariation(series("EURUSD", market.M5, 100, 101, 99.99, 99.99))
	require.NoError(t, err)
	require.Len(t, v, 3)
	assert.InDelta(t, 1.0, v[0], 1e-12)
	assert.InDelta(t, -1.0, v[1], 1e-12)
	assert.InDelta(t, 0.0, v[2], 1e-12)
}

func TestPercentageVariationLengthIsNMinusOne(t *testing.T) {
	t.Parallel()

	for n := 2; n < 12; n++ {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 1.08 + float64(i%3)*0.001
		}
		v, err := PercentageVariation(series("EURUSD", market.M15, closes...))
		require.NoError(t, err)
		assert.Len(t, v, n-1)
		assert.Len(t, IncrementalSum(v), n-1)
	}
}

func TestPercentageVariationInsufficientData(t *testing.T) {
	t.Parallel()

	_, err := PercentageVariation(series("EURUSD", market.H1, 1.1))
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = PercentageVariation(market.Series{Symbol: "EURUSD", Timeframe: market.H1})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestPercentageVariationRejectsNonPositiveClose(t *testing.T) {
	t.Parallel()

	_, err := PercentageVariation(series("EURUSD", market.H1, 1.1, 0, 1.2))
	assert.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestIncrementalSum(t *testing.T) {
	t.Parallel()

	v := []float64{0.5, -0.25, 1, 0}
	got := IncrementalSum(v)
	assert.Equal(t, []float64{0.5, 0.25, 1.25, 1.25}, got)

	// Pure: same input, same output, input untouched.
	assert.Equal(t, got, IncrementalSum(v))
	assert.Equal(t, []float64{0.5, -0.25, 1, 0}, v)

	assert.Empty(t, IncrementalSum(nil))
}

func TestGenerateSignConvention(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeNone)
	snap := c.Generate(t0, Sums{
		market.H1: {
			"EURUSD": {0.002},
			"GBPUSD": {0.001},
		},
	})

	usd, ok := snap.Strength(market.H1, "USD")
	require.True(t, ok)
	assert.InDelta(t, -0.003, usd, 1e-12)

	eur, ok := snap.Strength(market.H1, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 0.002, eur, 1e-12)

	gbp, ok := snap.Strength(market.H1, "GBP")
	require.True(t, ok)
	assert.InDelta(t, 0.001, gbp, 1e-12)
}

func TestGenerateMeanNormalization(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeMean)
	snap := c.Generate(t0, Sums{
		market.H1: {"EURUSD": {0.002}, "GBPUSD": {0.001}},
	})

	usd, _ := snap.Strength(market.H1, "USD")
	assert.InDelta(t, -0.0015, usd, 1e-12)
	eur, _ := snap.Strength(market.H1, "EUR")
	assert.InDelta(t, 0.002, eur, 1e-12)
}

func TestGenerateSkipsMissingSymbolsAndOmitsCurrencies(t *testing.T) {
	t.Parallel()

	c := NewCalculator([]string{"EUR", "USD", "GBP", "JPY"}, NormalizeNone)
	snap := c.Generate(t0, Sums{
		market.H1: {"EURUSD": {0.1, 0.2}},
		market.M5: {"GBPUSD": {0.3}},
		market.D1: {"AUDNZD": {0.4}},
	})

	assert.Equal(t, []string{"EUR", "USD"}, snap.Currencies(market.H1))
	assert.Equal(t, []string{"GBP", "USD"}, snap.Currencies(market.M5))

	_, ok := snap.Strength(market.M5, "EUR")
	assert.False(t, ok, "EUR has no pair in M5 and must not be synthesised as zero")

	_, ok = snap.Strength(market.H1, "JPY")
	assert.False(t, ok)

	// Neither AUD nor NZD is tracked, so D1 has no currencies at all.
	assert.NotContains(t, snap.Timeframes(), market.D1)
}

func TestGenerateAlignsOnMostRecentValue(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeNone)
	snap := c.Generate(t0, Sums{
		market.M5: {
			"EURUSD": {1, 2, 3, 4},
			"GBPUSD": {10, 20},
		},
	})

	assert.Equal(t, []float64{1, 2, 3, 4}, snap.Series(market.M5, "EUR"))
	assert.Equal(t, []float64{-13, -24}, snap.Series(market.M5, "USD"))
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	sums := Sums{market.H4: {
		"EURUSD": {0.1, 0.31}, "GBPUSD": {0.07, 0.013}, "USDJPY": {0.2, -0.4},
		"EURJPY": {0.33, 0.17}, "GBPJPY": {-0.11, 0.29},
	}}
	c := NewCalculator(nil, NormalizeNone)
	a := c.Generate(t0, sums)
	b := c.Generate(t0, sums)
	assert.Equal(t, a.Latest(), b.Latest())
}

func TestComputeSkipsShortSeries(t *testing.T) {
	t.Parallel()

	frame := market.Frame{}
	frame.Put(series("EURUSD", market.H1, 1.0, 1.01))
	frame.Put(series("GBPUSD", market.H1, 1.3))
	frame.Put(series("GBPUSD", market.M15, 1.3, 1.3, 1.313))

	c := NewCalculator(nil, NormalizeNone)
	snap, issues := c.Compute(t0, frame)

	require.Len(t, issues, 1)
	assert.Equal(t, "GBPUSD", issues[0].Symbol)
	assert.Equal(t, market.H1, issues[0].Timeframe)
	assert.True(t, errors.Is(issues[0].Err, ErrInsufficientData))

	eur, ok := snap.Strength(market.H1, "EUR")
	require.True(t, ok)
	assert.InDelta(t, 1.0, eur, 1e-9)

	_, ok = snap.Strength(market.H1, "GBP")
	assert.False(t, ok)

	gbp, ok := snap.Strength(market.M15, "GBP")
	require.True(t, ok)
	assert.InDelta(t, 1.0, gbp, 1e-9)
}

func TestSnapshotIsReadOnly(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeNone)
	snap := c.Generate(t0, Sums{market.H1: {"EURUSD": {0.5}}})

	s := snap.Series(market.H1, "EUR")
	s[0] = 99
	latest := snap.Latest()
	latest[market.H1]["EUR"] = 42

	v, _ := snap.Strength(market.H1, "EUR")
	assert.Equal(t, 0.5, v)
}

func TestSnapshotRankingAndSpread(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeNone)
	snap := c.Generate(t0, Sums{market.H1: {"EURUSD": {0.4}, "USDJPY": {0.1}}})

	r := snap.Ranking(market.H1)
	require.Len(t, r, 3)
	assert.Equal(t, "EUR", r[0].Currency)
	assert.Equal(t, "JPY", r[1].Currency)
	assert.Equal(t, "USD", r[2].Currency)

	sp, ok := snap.Spread(market.H1, market.Pair{Base: "EUR", Quote: "JPY"})
	require.True(t, ok)
	assert.InDelta(t, 0.5, sp, 1e-12)
}

func TestSnapshotJSON(t *testing.T) {
	t.Parallel()

	c := NewCalculator(nil, NormalizeNone)
	snap := c.Generate(t0, Sums{market.H1: {"EURUSD": {0.1, 0.2}}}).AsDegraded("cache")

	b, err := json.Marshal(snap)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(b, &got))
	assert.True(t, got.Time().Equal(t0))
	assert.True(t, got.Degraded())
	assert.Equal(t, "cache", got.Origin())
	assert.Equal(t, []float64{-0.1, -0.2}, got.Series(market.H1, "USD"))
}

func TestParseNormalization(t *testing.T) {
	n, err := ParseNormalization("Mean")
	require.NoError(t, err)
	assert.Equal(t, NormalizeMean, n)

	n, err = ParseNormalization("")
	require.NoError(t, err)
	assert.Equal(t, NormalizeNone, n)

	_, err = ParseNormalization("median")
	assert.Error(t, err)
}
