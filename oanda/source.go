package oanda

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

// Source serves mid price candles as a gateway.Source.
type Source struct {
	c   *Client
	now func() time.Time
}

func NewSource(c *Client) *Source {
	return &Source{c: c, now: time.Now}
}

func (s *Source) Name() string { return "oanda" }

func (s *Source) FetchBars(ctx context.Context, symbol string, tf market.Timeframe, count int, end *time.Time) (market.Series, error) {
	p, err := market.ParsePair(symbol)
	if err != nil {
		return market.Series{}, fmt.Errorf("%w: %v", gateway.ErrDataUnavailable, err)
	}
	g, err := GranularityOf(tf)
	if err != nil {
		return market.Series{}, fmt.Errorf("%w: %v", gateway.ErrDataUnavailable, err)
	}

	req := CandlesRequest{Instrument: p.Instrument(), Granularity: g, Count: count}
	// A "to" at or past the server clock is rejected, so live requests omit it.
	if end != nil && s.now().Sub(*end) > time.Minute {
		to := end.UTC()
		req.To = &to
	}
	candles, err := s.c.GetCandles(ctx, req)
	if err != nil {
		return market.Series{}, err
	}
	if len(candles) == 0 {
		return market.Series{}, fmt.Errorf("%s %s: %w", symbol, tf, gateway.ErrDataUnavailable)
	}
	return market.NewSeries(p.Symbol(), tf, candles), nil
}

var _ gateway.Source = (*Source)(nil)
