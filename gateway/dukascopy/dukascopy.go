// Package dukascopy builds bars from Dukascopy hourly tick archives.
//
// Each archive (.bi5) is an LZMA stream of 20 byte big-endian records:
// millisecond offset into the hour, ask, bid (integer points), ask volume and
// bid volume (float32). Archives are cached on disk after the first download.
package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

const DefaultBaseURL = "https://datafeed.dukascopy.com/datafeed"

const recordSize = 20

// Tick is one decoded quote.
type Tick struct {
	Time   time.Time
	Ask    float64
	Bid    float64
	AskVol float64
	BidVol float64
}

func (t Tick) Mid() float64 { return (t.Ask + t.Bid) / 2 }

// Source downloads and aggregates tick archives.
type Source struct {
	BaseURL  string
	CacheDir string
	HTTP     *http.Client
	Workers  int

	mu    sync.Mutex
	hours map[string][]Tick
}

func New(baseURL, cacheDir string) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		CacheDir: cacheDir,
		HTTP:     &http.Client{Timeout: 45 * time.Second},
		Workers:  4,
		hours:    make(map[string][]Tick),
	}
}

func (s *Source) Name() string { return "dukascopy" }

// HourURL returns the archive URL of symbol for the hour containing t. The
// month in the path is zero based.
func HourURL(base, symbol string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		base, symbol, t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

// pointValue is the price of one integer point in an archive.
func pointValue(p market.Pair) float64 {
	if p.Quote == "JPY" {
		return 1e-3
	}
	return 1e-5
}

// Decode parses a decompressed archive for the hour starting at hour.
func Decode(data []byte, hour time.Time, point float64) ([]Tick, error) {
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("truncated tick data: %d bytes", len(data))
	}
	out := make([]Tick, 0, len(data)/recordSize)
	for off := 0; off < len(data); off += recordSize {
		rec := data[off : off+recordSize]
		ms := binary.BigEndian.Uint32(rec[0:4])
		out = append(out, Tick{
			Time:   hour.Add(time.Duration(ms) * time.Millisecond),
			Ask:    float64(binary.BigEndian.Uint32(rec[4:8])) * point,
			Bid:    float64(binary.BigEndian.Uint32(rec[8:12])) * point,
			AskVol: float64(math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))),
			BidVol: float64(math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))),
		})
	}
	return out, nil
}

// Decompress unpacks a .bi5 archive.
func Decompress(bi5 []byte) ([]byte, error) {
	if len(bi5) == 0 {
		return nil, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(bi5))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	return io.ReadAll(r)
}

func (s *Source) cachePath(symbol string, hour time.Time) string {
	return filepath.Join(s.CacheDir, symbol,
		fmt.Sprintf("%04d", hour.Year()), fmt.Sprintf("%02d", hour.Month()),
		fmt.Sprintf("%02d", hour.Day()), fmt.Sprintf("%02dh_ticks.bi5", hour.Hour()))
}

// download returns the raw archive, nil for an hour without ticks.
func (s *Source) download(ctx context.Context, symbol string, hour time.Time) ([]byte, error) {
	var path string
	if s.CacheDir != "" {
		path = s.cachePath(symbol, hour)
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, HourURL(s.BaseURL, symbol, hour), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ufoagent/1.0")
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dukascopy http %d for %s", resp.StatusCode, req.URL)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			tmp := path + ".part"
			if err := os.WriteFile(tmp, b, 0o644); err == nil {
				_ = os.Rename(tmp, path)
			}
		}
	}
	return b, nil
}

// Ticks returns the ticks of one hour.
func (s *Source) Ticks(ctx context.Context, p market.Pair, hour time.Time) ([]Tick, error) {
	hour = hour.UTC().Truncate(time.Hour)
	key := p.Symbol() + hour.Format(time.RFC3339)

	s.mu.Lock()
	if ts, ok := s.hours[key]; ok {
		s.mu.Unlock()
		return ts, nil
	}
	s.mu.Unlock()

	raw, err := s.download(ctx, p.Symbol(), hour)
	if err != nil {
		return nil, err
	}
	data, err := Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.Symbol(), hour.Format(time.RFC3339), err)
	}
	ts, err := Decode(data, hour, pointValue(p))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.hours[key] = ts
	s.mu.Unlock()
	return ts, nil
}

// Aggregate folds ticks into mid price bars of tf. Bars are stamped with
// their open time and volume is the summed tick volume.
func Aggregate(symbol string, tf market.Timeframe, ticks []Tick) market.Series {
	d := tf.Duration()
	var cs []market.Candle
	for _, t := range ticks {
		at := t.Time.Truncate(d)
		px := t.Mid()
		if n := len(cs); n > 0 && cs[n-1].Time.Equal(at) {
			c := &cs[n-1]
			c.High = math.Max(c.High, px)
			c.Low = math.Min(c.Low, px)
			c.Close = px
			c.Volume += t.AskVol + t.BidVol
			continue
		}
		cs = append(cs, market.Candle{Time: at, Open: px, High: px, Low: px, Close: px, Volume: t.AskVol + t.BidVol})
	}
	return market.NewSeries(symbol, tf, cs)
}

// FetchBars downloads every hour needed for count completed bars ending at
// or before end and aggregates them.
func (s *Source) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	p, err := market.ParsePair(symbol)
	if err != nil {
		return market.Series{}, fmt.Errorf("%w: %v", gateway.ErrDataUnavailable, err)
	}
	d := tf.Duration()
	if d == 0 || count <= 0 {
		return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
	}
	ref := time.Now().UTC()
	if end != nil {
		ref = end.UTC()
	}
	stop := ref.Truncate(d)
	start := stop.Add(-time.Duration(count) * d)

	var hours []time.Time
	for h := start.Truncate(time.Hour); h.Before(stop); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	results := make([][]Tick, len(hours))

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, h := range hours {
		i, h := i, h
		g.Go(func() error {
			ts, err := s.Ticks(gctx, p, h)
			if err != nil {
				return err
			}
			results[i] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return market.Series{}, err
	}

	var ticks []Tick
	for _, ts := range results {
		for _, t := range ts {
			if !t.Time.Before(start) && t.Time.Before(stop) {
				ticks = append(ticks, t)
			}
		}
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Time.Before(ticks[j].Time) })
	ser := Aggregate(p.Symbol(), tf, ticks)
	if n := ser.Len(); n > count {
		ser.Candles = ser.Candles[n-count:]
	}
	if ser.Empty() {
		return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
	}
	return ser, nil
}

var _ gateway.Source = (*Source)(nil)
