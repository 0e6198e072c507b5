// Package gateway fetches the bar history a cycle needs from a market data
// source. Missing data never fails a cycle: the collector returns whatever
// arrived and reports the rest in its Stats.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/ufoagent/market"
)

// ErrDataUnavailable reports that a source had no bars for a request.
var ErrDataUnavailable = errors.New("data unavailable")

// Source is a market data source. FetchBars returns up to count bars of
// symbol ending at or before end, oldest first; a nil end means the most
// recent bars. Sources return ErrDataUnavailable (possibly wrapped) rather
// than an empty series when they have nothing.
type Source interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error)

func (f SourceFunc) Name() string { return "func" }

func (f SourceFunc) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	return f(ctx, symbol, tf, count, end)
}
