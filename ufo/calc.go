// Package ufo turns OHLC history into the cross-currency strength index.
//
// Each pair's closes become percentage variations, the variations become a
// running total, and every currency collects the running totals of the pairs
// it belongs to: added when it is the base, subtracted when it is the quote.
package ufo

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/ufoagent/market"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidPrice     = errors.New("invalid price")
)

// PercentageVariation returns (close[i]-close[i-1])/close[i-1]*100 for each
// consecutive pair of closes. The result has Len()-1 values.
func PercentageVariation(s market.Series) ([]float64, error) {
	if s.Len() < 2 {
		return nil, fmt.Errorf("%s %s: %w: %d bars", s.Symbol, s.Timeframe, ErrInsufficientData, s.Len())
	}

	out := make([]float64, s.Len()-1)
	prev := s.Candles[0].Close
	for i := 1; i < s.Len(); i++ {
		cur := s.Candles[i].Close
		if prev <= 0 {
			return nil, fmt.Errorf("%s %s: %w: close %v at %s", s.Symbol, s.Timeframe, ErrInvalidPrice, prev, s.Candles[i-1].Time.Format(time.RFC3339))
		}
		out[i-1] = (cur - prev) / prev * 100
		prev = cur
	}
	return out, nil
}

// IncrementalSum returns the running total of v: out[k] = v[0] + ... + v[k].
func IncrementalSum(v []float64) []float64 {
	out := make([]float64, len(v))
	sum := 0.0
	for i, x := range v {
		sum += x
		out[i] = sum
	}
	return out
}

// Sums maps timeframe -> symbol -> cumulative variation sums.
type Sums map[market.Timeframe]map[string][]float64

// Normalization selects how a currency's aggregated contributions are scaled.
type Normalization int

const (
	// NormalizeNone keeps the raw signed sum of contributions.
	NormalizeNone Normalization = iota
	// NormalizeMean divides by the number of contributing pairs.
	NormalizeMean
)

// ParseNormalization accepts "none" (or empty) and "mean".
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "sum":
		return NormalizeNone, nil
	case "mean", "count", "average":
		return NormalizeMean, nil
	}
	return NormalizeNone, fmt.Errorf("unknown normalization %q", s)
}

// Issue records a series that was left out of a snapshot.
type Issue struct {
	Symbol    string
	Timeframe market.Timeframe
	Err       error
}

// Calculator aggregates pair sums into currency strength. It holds no state
// between calls.
type Calculator struct {
	currencies map[string]bool
	norm       Normalization
}

// NewCalculator restricts output to the given currencies; an empty list
// keeps every currency seen in the input.
func NewCalculator(currencies []string, norm Normalization) *Calculator {
	c := &Calculator{norm: norm}
	if len(currencies) > 0 {
		c.currencies = make(map[string]bool, len(currencies))
		for _, ccy := range currencies {
			c.currencies[strings.ToUpper(strings.TrimSpace(ccy))] = true
		}
	}
	return c
}

func (c *Calculator) tracked(ccy string) bool {
	return c.currencies == nil || c.currencies[ccy]
}

type contribution struct {
	sign float64
	sums []float64
}

// Generate builds a snapshot from per-timeframe pair sums. Symbols absent
// from a timeframe are skipped for it, and a currency with no contributing
// pair in a timeframe is left out of that timeframe.
func (c *Calculator) Generate(ref time.Time, sums Sums) Snapshot {
	snap := Snapshot{
		at:     ref,
		series: make(map[market.Timeframe]map[string][]float64, len(sums)),
	}

	for tf, bySymbol := range sums {
		// Sorted so float accumulation order does not depend on map order.
		symbols := make([]string, 0, len(bySymbol))
		for sym := range bySymbol {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		contrib := make(map[string][]contribution)
		for _, sym := range symbols {
			s := bySymbol[sym]
			if len(s) == 0 {
				continue
			}
			p, err := market.ParsePair(sym)
			if err != nil {
				continue
			}
			if c.tracked(p.Base) {
				contrib[p.Base] = append(contrib[p.Base], contribution{sign: 1, sums: s})
			}
			if c.tracked(p.Quote) {
				contrib[p.Quote] = append(contrib[p.Quote], contribution{sign: -1, sums: s})
			}
		}
		if len(contrib) == 0 {
			continue
		}

		out := make(map[string][]float64, len(contrib))
		for ccy, cs := range contrib {
			out[ccy] = c.aggregate(cs)
		}
		snap.series[tf] = out
	}
	return snap
}

// aggregate aligns contributions on their most recent value and sums them
// element-wise over the shortest common length.
func (c *Calculator) aggregate(cs []contribution) []float64 {
	n := len(cs[0].sums)
	for _, x := range cs[1:] {
		if len(x.sums) < n {
			n = len(x.sums)
		}
	}

	out := make([]float64, n)
	for _, x := range cs {
		off := len(x.sums) - n
		for i := 0; i < n; i++ {
			out[i] += x.sign * x.sums[off+i]
		}
	}
	if c.norm == NormalizeMean {
		k := float64(len(cs))
		for i := range out {
			out[i] /= k
		}
	}
	return out
}

// Compute runs variation and incremental sum for every series in the frame
// and generates the snapshot. Series that cannot be used are reported as
// issues and skipped; the other series still contribute.
func (c *Calculator) Compute(ref time.Time, frame market.Frame) (Snapshot, []Issue) {
	sums := make(Sums, len(frame))
	var issues []Issue

	for tf, bySymbol := range frame {
		for sym, s := range bySymbol {
			v, err := PercentageVariation(s)
			if err != nil {
				issues = append(issues, Issue{Symbol: sym, Timeframe: tf, Err: err})
				continue
			}
			if sums[tf] == nil {
				sums[tf] = make(map[string][]float64)
			}
			sums[tf][sym] = IncrementalSum(v)
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Timeframe != issues[j].Timeframe {
			return issues[i].Timeframe < issues[j].Timeframe
		}
		return issues[i].Symbol < issues[j].Symbol
	})
	return c.Generate(ref, sums), issues
}
