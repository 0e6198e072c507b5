// Package csvdir replays candle history from a directory of CSV files.
//
// Files use the canonical candle layout
//
//	time,instrument,granularity,complete,volume,o,h,l,c
//
// and are named <SYMBOL>_<TIMEFRAME>.csv, for example EURUSD_H1.csv or
// EUR_USD_H1.csv. Incomplete candles are skipped.
package csvdir

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

// Header is the canonical candle CSV header.
var Header = []string{"time", "instrument", "granularity", "complete", "volume", "o", "h", "l", "c"}

// Source serves bars from CSV files under Dir. Files are read once and kept.
type Source struct {
	Dir string

	mu    sync.Mutex
	cache map[string]market.Series
}

func New(dir string) *Source {
	return &Source{Dir: dir, cache: make(map[string]market.Series)}
}

func (s *Source) Name() string { return "csv" }

// FileName returns the file name used for symbol and tf.
func FileName(symbol string, tf market.Timeframe) string {
	return fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), tf)
}

func (s *Source) load(symbol string, tf market.Timeframe) (market.Series, error) {
	key := symbol + "/" + tf.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.cache[key]; ok {
		return ser, nil
	}

	names := []string{FileName(symbol, tf)}
	if p, err := market.ParsePair(symbol); err == nil {
		names = append(names, FileName(p.Instrument(), tf))
	}
	var (
		f   *os.File
		err error
	)
	for _, n := range names {
		f, err = os.Open(filepath.Join(s.Dir, n))
		if err == nil {
			break
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
		}
		return market.Series{}, err
	}
	defer f.Close()

	candles, err := Read(f)
	if err != nil {
		return market.Series{}, fmt.Errorf("%s: %w", f.Name(), err)
	}
	ser := market.NewSeries(symbol, tf, candles)
	s.cache[key] = ser
	return ser, nil
}

// FetchBars returns the last count bars at or before end.
func (s *Source) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	ser, err := s.load(symbol, tf)
	if err != nil {
		return market.Series{}, err
	}
	if end != nil {
		ser = ser.NotAfter(*end)
	}
	if n := ser.Len(); count > 0 && n > count {
		ser.Candles = ser.Candles[n-count:]
	}
	if ser.Empty() {
		return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
	}
	return ser, nil
}

// Read parses canonical candle rows. A header row is optional.
func Read(r io.Reader) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []market.Candle
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}
		if len(rec) < len(Header) {
			return nil, fmt.Errorf("line %d: want %d fields, got %d", line, len(Header), len(rec))
		}
		if complete, err := strconv.ParseBool(rec[3]); err == nil && !complete {
			continue
		}

		t, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: time: %w", line, err)
		}
		vals := make([]float64, 5)
		for i, col := range []int{4, 5, 6, 7, 8} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, Header[col], err)
			}
			vals[i] = v
		}
		out = append(out, market.Candle{
			Time:   t.UTC(),
			Volume: vals[0],
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
		})
	}
	return out, nil
}

// Write emits s in the canonical layout, header first.
func Write(w io.Writer, s market.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range s.Candles {
		row := []string{
			c.Time.UTC().Format(time.RFC3339Nano),
			s.Symbol,
			s.Timeframe.String(),
			"true",
			f(c.Volume),
			f(c.Open), f(c.High), f(c.Low), f(c.Close),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes s to dir under its canonical file name.
func WriteFile(dir string, s market.Series) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(s.Symbol, s.Timeframe))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, s); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}
