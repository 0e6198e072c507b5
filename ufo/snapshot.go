package ufo

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rustyeddy/ufoagent/market"
)

// Snapshot is the strength index of one cycle: timeframe -> currency ->
// strength series. It cannot be modified after Generate returns; accessors
// hand out copies.
type Snapshot struct {
	at       time.Time
	series   map[market.Timeframe]map[string][]float64
	degraded bool
	origin   string
}

// Time is the cycle reference time the snapshot was computed for.
func (s Snapshot) Time() time.Time { return s.at }

// Degraded reports whether the snapshot replaced unavailable live data.
func (s Snapshot) Degraded() bool { return s.degraded }

// Origin describes where a degraded snapshot came from ("cache", "empty").
func (s Snapshot) Origin() string { return s.origin }

// AsDegraded returns a copy marked as a degraded-mode substitute.
func (s Snapshot) AsDegraded(origin string) Snapshot {
	s.degraded = true
	s.origin = origin
	return s
}

// Empty reports whether the snapshot holds no strength values.
func (s Snapshot) Empty() bool { return len(s.series) == 0 }

// Timeframes returns the timeframes present, finest first.
func (s Snapshot) Timeframes() []market.Timeframe {
	out := make([]market.Timeframe, 0, len(s.series))
	for tf := range s.series {
		out = append(out, tf)
	}
	market.SortTimeframes(out)
	return out
}

// Currencies returns the currencies present in tf, sorted.
func (s Snapshot) Currencies(tf market.Timeframe) []string {
	m := s.series[tf]
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Strength returns the latest strength value of ccy in tf.
func (s Snapshot) Strength(tf market.Timeframe, ccy string) (float64, bool) {
	v := s.series[tf][ccy]
	if len(v) == 0 {
		return 0, false
	}
	return v[len(v)-1], true
}

// Series returns a copy of the full strength series of ccy in tf.
func (s Snapshot) Series(tf market.Timeframe, ccy string) []float64 {
	v := s.series[tf][ccy]
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Latest flattens the snapshot to timeframe -> currency -> latest value.
func (s Snapshot) Latest() map[market.Timeframe]map[string]float64 {
	out := make(map[market.Timeframe]map[string]float64, len(s.series))
	for tf, m := range s.series {
		row := make(map[string]float64, len(m))
		for ccy, v := range m {
			if len(v) > 0 {
				row[ccy] = v[len(v)-1]
			}
		}
		out[tf] = row
	}
	return out
}

// Spread returns strength(base) - strength(quote) for the pair in tf.
func (s Snapshot) Spread(tf market.Timeframe, p market.Pair) (float64, bool) {
	b, ok := s.Strength(tf, p.Base)
	if !ok {
		return 0, false
	}
	q, ok := s.Strength(tf, p.Quote)
	if !ok {
		return 0, false
	}
	return b - q, true
}

// Ranked is one entry of a strength ranking.
type Ranked struct {
	Currency string  `json:"currency"`
	Strength float64 `json:"strength"`
}

// Ranking orders the currencies of tf from strongest to weakest.
func (s Snapshot) Ranking(tf market.Timeframe) []Ranked {
	out := make([]Ranked, 0, len(s.series[tf]))
	for _, ccy := range s.Currencies(tf) {
		v, _ := s.Strength(tf, ccy)
		out = append(out, Ranked{Currency: ccy, Strength: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

type snapshotJSON struct {
	Time     time.Time                                 `json:"time"`
	Degraded bool                                      `json:"degraded,omitempty"`
	Origin   string                                    `json:"origin,omitempty"`
	Series   map[market.Timeframe]map[string][]float64 `json:"series"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Time: s.at, Degraded: s.degraded, Origin: s.origin, Series: s.series})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Snapshot{at: v.Time, degraded: v.Degraded, origin: v.Origin, series: v.Series}
	if s.series == nil {
		s.series = make(map[market.Timeframe]map[string][]float64)
	}
	return nil
}
