package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/ufoagent/market"
)

// Failure describes one (symbol, timeframe) fetch that produced no bars.
type Failure struct {
	Symbol    string
	Timeframe market.Timeframe
	Err       error
}

// Stats summarises one collection pass.
type Stats struct {
	Requested int
	Returned  int
	Failures  []Failure
	Elapsed   time.Duration
}

// Available reports whether at least one series came back non-empty.
func (s Stats) Available() bool { return s.Returned > 0 }

// Collector fetches every configured (symbol, timeframe) series for a cycle.
type Collector struct {
	src         Source
	symbols     []string
	bars        map[market.Timeframe]int
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
}

// CollectorConfig holds the Collector settings.
type CollectorConfig struct {
	Symbols     []string
	Bars        map[market.Timeframe]int
	Timeout     time.Duration
	Concurrency int
}

func NewCollector(src Source, cfg CollectorConfig, log zerolog.Logger) *Collector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Collector{
		src:         src,
		symbols:     append([]string(nil), cfg.Symbols...),
		bars:        cfg.Bars,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		log:         log.With().Str("component", "gateway").Str("source", src.Name()).Logger(),
	}
}

// Symbols returns the tracked symbols.
func (c *Collector) Symbols() []string { return append([]string(nil), c.symbols...) }

// Collect fetches all series ending at ref. Fetches run in parallel up to the
// configured concurrency and each carries its own timeout; Collect returns
// once every fetch has completed or timed out. Bars stamped after ref are
// dropped.
func (c *Collector) Collect(ctx context.Context, ref time.Time) (market.Frame, Stats) {
	start := time.Now()
	frame := market.Frame{}
	stats := Stats{}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	tfs := make([]market.Timeframe, 0, len(c.bars))
	for tf := range c.bars {
		tfs = append(tfs, tf)
	}
	market.SortTimeframes(tfs)

	for _, tf := range tfs {
		count := c.bars[tf]
		for _, sym := range c.symbols {
			tf, sym := tf, sym
			stats.Requested++
			g.Go(func() error {
				s, err := c.fetch(gctx, sym, tf, count, ref)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					stats.Failures = append(stats.Failures, Failure{Symbol: sym, Timeframe: tf, Err: err})
					c.log.Warn().Str("symbol", sym).Str("timeframe", tf.String()).Err(err).Msg("no bars")
					return nil
				}
				frame.Put(s)
				stats.Returned++
				return nil
			})
		}
	}
	_ = g.Wait() // workers never return errors

	sort.Slice(stats.Failures, func(i, j int) bool {
		a, b := stats.Failures[i], stats.Failures[j]
		if a.Timeframe != b.Timeframe {
			return a.Timeframe < b.Timeframe
		}
		return a.Symbol < b.Symbol
	})
	stats.Elapsed = time.Since(start)
	c.log.Debug().Int("requested", stats.Requested).Int("returned", stats.Returned).
		Dur("elapsed", stats.Elapsed).Msg("collected")
	return frame, stats
}

func (c *Collector) fetch(ctx context.Context, sym string, tf market.Timeframe, count int, ref time.Time) (market.Series, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	end := ref
	raw, err := c.src.FetchBars(ctx, sym, tf, count, &end)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return market.Series{}, fmt.Errorf("%w: timeout after %s", ErrDataUnavailable, c.timeout)
		}
		if !errors.Is(err, ErrDataUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDataUnavailable, err)
		}
		return market.Series{}, err
	}

	// Stored under the tracked name, whatever the source resolved it to.
	s := market.NewSeries(sym, tf, raw.Candles).NotAfter(ref)
	if n := s.Len(); n > count {
		s.Candles = s.Candles[n-count:]
	}
	if s.Empty() {
		return market.Series{}, ErrDataUnavailable
	}
	return s, nil
}
