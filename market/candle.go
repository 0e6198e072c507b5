package market

import (
	"sort"
	"time"
)

// Candle represents one OHLC bar for a single instrument, timeframe and
// period. Candles are treated as immutable once fetched.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Series is the ordered bar history of one (symbol, timeframe) pair.
// Candles are ascending by time with no duplicate timestamps.
type Series struct {
	Symbol    string
	Timeframe Timeframe
	Candles   []Candle
}

// NewSeries sorts candles by time and drops duplicate timestamps, keeping
// the last occurrence. The input slice is not modified.
func NewSeries(symbol string, tf Timeframe, candles []Candle) Series {
	cs := make([]Candle, len(candles))
	copy(cs, candles)
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Time.Before(cs[j].Time) })

	out := cs[:0]
	for _, c := range cs {
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return Series{Symbol: symbol, Timeframe: tf, Candles: out}
}

func (s Series) Len() int { return len(s.Candles) }

func (s Series) Empty() bool { return len(s.Candles) == 0 }

// Closes returns the close prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent candle.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// NotAfter returns the prefix of the series whose timestamps are <= ref.
func (s Series) NotAfter(ref time.Time) Series {
	n := sort.Search(len(s.Candles), func(i int) bool { return s.Candles[i].Time.After(ref) })
	return Series{Symbol: s.Symbol, Timeframe: s.Timeframe, Candles: s.Candles[:n]}
}

// Frame holds the series collected for one cycle, keyed by timeframe then
// symbol.
type Frame map[Timeframe]map[string]Series

// Put stores a series, creating the timeframe bucket if needed.
func (f Frame) Put(s Series) {
	m, ok := f[s.Timeframe]
	if !ok {
		m = make(map[string]Series)
		f[s.Timeframe] = m
	}
	m[s.Symbol] = s
}

// Get returns the series of symbol in tf, empty if absent.
func (f Frame) Get(tf Timeframe, symbol string) Series {
	if s, ok := f[tf][symbol]; ok {
		return s
	}
	return Series{Symbol: symbol, Timeframe: tf}
}

// Bars counts the candles held across every series.
func (f Frame) Bars() int {
	n := 0
	for _, m := range f {
		for _, s := range m {
			n += s.Len()
		}
	}
	return n
}

// LastClose returns the newest close for symbol across the finest timeframe
// that has data for it.
func (f Frame) LastClose(symbol string) (Candle, bool) {
	var (
		best   Candle
		bestTF time.Duration
		found  bool
	)
	for tf, m := range f {
		s, ok := m[symbol]
		if !ok {
			continue
		}
		c, ok := s.Last()
		if !ok {
			continue
		}
		d := tf.Duration()
		if !found || d < bestTF || (d == bestTF && c.Time.After(best.Time)) {
			best, bestTF, found = c, d, true
		}
	}
	return best, found
}
