// Package synthetic generates deterministic price history for offline runs.
//
// Every currency carries a latent value driven by a few seeded cycles plus
// per-bar noise, and a pair is priced as value(base)/value(quote). Crosses are
// therefore consistent with each other and the same (seed, symbol, time)
// always yields the same price, whichever window is requested.
package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

// usdValue is the rough USD value of one unit of each currency.
var usdValue = map[string]float64{
	"USD": 1,
	"EUR": 1.08,
	"GBP": 1.27,
	"AUD": 0.66,
	"NZD": 0.60,
	"CAD": 0.73,
	"CHF": 1.13,
	"JPY": 0.0067,
}

type wave struct {
	period time.Duration
	phase  float64
	amp    float64
}

// Source is a gateway.Source backed by the generator.
type Source struct {
	seed  int64
	noise float64
	now   func() time.Time

	mu    sync.Mutex
	waves map[string][]wave
}

// New returns a generator for seed.
func New(seed int64) *Source {
	return &Source{seed: seed, waves: make(map[string][]wave), noise: 0.0004, now: time.Now}
}

func (s *Source) Name() string { return "synthetic" }

func (s *Source) unit(parts ...any) float64 {
	h := fnv.New64a()
	_ = binary.Write(h, binary.LittleEndian, s.seed)
	for _, p := range parts {
		fmt.Fprint(h, "|", p)
	}
	return float64(h.Sum64()>>11) / float64(1<<53)
}

func (s *Source) wavesFor(ccy string) []wave {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.waves[ccy]; ok {
		return w
	}
	periods := []time.Duration{6 * time.Hour, 3 * 24 * time.Hour, 17 * 24 * time.Hour}
	w := make([]wave, len(periods))
	for i, p := range periods {
		w[i] = wave{
			period: p,
			phase:  2 * math.Pi * s.unit(ccy, "phase", i),
			amp:    0.002 * float64(i+1) * (0.5 + s.unit(ccy, "amp", i)),
		}
	}
	s.waves[ccy] = w
	return w
}

// logValue is the latent log value of ccy in USD at t.
func (s *Source) logValue(ccy string, t time.Time) float64 {
	if ccy == "USD" {
		return 0
	}
	base, ok := usdValue[ccy]
	if !ok {
		base = 0.5 + s.unit(ccy, "base")
	}
	v := math.Log(base)
	sec := float64(t.Unix())
	for _, w := range s.wavesFor(ccy) {
		v += w.amp * math.Sin(2*math.Pi*sec/w.period.Seconds()+w.phase)
	}
	// Noise is keyed on the minute so every timeframe samples the same path.
	minute := t.Unix() / 60
	v += s.noise * (2*s.unit(ccy, "n", minute) - 1)
	return v
}

// Price returns the synthetic mid price of p at t.
func (s *Source) Price(p market.Pair, t time.Time) float64 {
	return math.Exp(s.logValue(p.Base, t) - s.logValue(p.Quote, t))
}

// FetchBars returns count completed bars ending at or before end.
func (s *Source) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	p, err := market.ParsePair(symbol)
	if err != nil {
		return market.Series{}, fmt.Errorf("%w: %v", gateway.ErrDataUnavailable, err)
	}
	d := tf.Duration()
	if d == 0 || count <= 0 {
		return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
	}

	ref := s.now().UTC()
	if end != nil {
		ref = end.UTC()
	}
	// Last bar whose close time is not after ref.
	last := ref.Truncate(d).Add(-d)
	if tf == market.W1 {
		last = ref.Add(-d).Truncate(24 * time.Hour)
	}

	step := d / 4
	if step < time.Minute {
		step = time.Minute
	}
	cs := make([]market.Candle, 0, count)
	for i := count - 1; i >= 0; i-- {
		open := last.Add(-time.Duration(i) * d)
		c := market.Candle{Time: open, Open: s.Price(p, open), Close: s.Price(p, open.Add(d))}
		c.High = math.Max(c.Open, c.Close)
		c.Low = math.Min(c.Open, c.Close)
		for at := open.Add(step); at.Before(open.Add(d)); at = at.Add(step) {
			px := s.Price(p, at)
			c.High = math.Max(c.High, px)
			c.Low = math.Min(c.Low, px)
		}
		c.Volume = float64(100 + int(900*s.unit(symbol, open.Unix())))
		cs = append(cs, c)
	}
	return market.NewSeries(p.Symbol(), tf, cs), nil
}
