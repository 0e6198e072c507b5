package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/ufoagent/market"
)

// SuffixResolver finds the broker specific name of each symbol. It tries the
// configured suffix, the bare symbol, then the usual ECN variants, and
// remembers the first name that returned data.
type SuffixResolver struct {
	src      Source
	suffix   string
	variants []string

	mu       sync.Mutex
	resolved map[string]string
}

// DefaultVariants are tried after the configured suffix and the bare name.
var DefaultVariants = []string{"-ECN", ".ecn", ".r", "m"}

func NewSuffixResolver(src Source, suffix string) *SuffixResolver {
	return &SuffixResolver{
		src:      src,
		suffix:   suffix,
		variants: DefaultVariants,
		resolved: make(map[string]string),
	}
}

func (r *SuffixResolver) Name() string { return r.src.Name() }

func (r *SuffixResolver) candidates(symbol string) []string {
	r.mu.Lock()
	name, ok := r.resolved[symbol]
	r.mu.Unlock()
	if ok {
		return []string{name}
	}

	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if r.suffix != "" {
		add(symbol + r.suffix)
	}
	add(symbol)
	for _, v := range r.variants {
		add(symbol + v)
	}
	return out
}

// Resolved returns the broker name found for symbol, if any.
func (r *SuffixResolver) Resolved(symbol string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.resolved[symbol]
	return name, ok
}

func (r *SuffixResolver) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	var lastErr error
	for _, name := range r.candidates(symbol) {
		s, err := r.src.FetchBars(ctx, name, tf, count, end)
		if err == nil && !s.Empty() {
			r.mu.Lock()
			r.resolved[symbol] = name
			r.mu.Unlock()
			s.Symbol = symbol
			return s, nil
		}
		if err == nil {
			err = ErrDataUnavailable
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !errors.Is(err, ErrDataUnavailable) {
			// Transport failures are not a naming problem.
			break
		}
	}
	return market.Series{}, fmt.Errorf("%s: %w", symbol, lastErr)
}
