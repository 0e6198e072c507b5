// Package executor turns approved decisions into broker orders and applies
// the confirmed outcome to the portfolio.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/roles"
)

// ErrExecution wraps broker failures of a decision.
var ErrExecution = errors.New("execution error")

// Status is the outcome of one execution.
type Status string

const (
	Filled   Status = "filled"
	Rejected Status = "rejected"
	Errored  Status = "error"
)

// Close pairs a closed position with the broker's close report.
type Close struct {
	Position portfolio.Position `json:"position"`
	Report   broker.Closed      `json:"report"`
}

// Result is what executing a decision produced.
type Result struct {
	Key         string         `json:"key"`
	Decision    roles.Decision `json:"decision"`
	Status      Status         `json:"status"`
	BrokerRef   string         `json:"broker_ref,omitempty"`
	FilledPrice float64        `json:"filled_price,omitempty"`
	Error       string         `json:"error,omitempty"`

	Opened *portfolio.Position `json:"opened,omitempty"`
	Closed []Close             `json:"closed,omitempty"`
}

// Err returns the failure of a rejected or errored result.
func (r Result) Err() error {
	if r.Status == Filled {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %s", ErrExecution, r.Status, r.Key, r.Error)
}

// Config configures an Executor.
type Config struct {
	// Timeout bounds each broker call.
	Timeout time.Duration
	// Mid prices protective levels before an order is sent. When it has no
	// price the levels are attached after the fill instead.
	Mid market.MidFunc
}

// Executor is idempotent per cycle: a decision key that already ran in the
// current cycle returns its first result without touching the broker.
type Executor struct {
	broker    broker.Broker
	portfolio *portfolio.Manager
	cfg       Config
	log       zerolog.Logger

	cycle   string
	results map[string]Result
}

func New(b broker.Broker, pf *portfolio.Manager, cfg Config, log zerolog.Logger) *Executor {
	return &Executor{
		broker:    b,
		portfolio: pf,
		cfg:       cfg,
		log:       log.With().Str("component", "executor").Logger(),
		results:   make(map[string]Result),
	}
}

// Execute runs one approved decision. The portfolio changes only after the
// broker has confirmed the order.
func (e *Executor) Execute(ctx context.Context, cycleID string, d roles.Decision) Result {
	if cycleID != e.cycle {
		e.cycle = cycleID
		e.results = make(map[string]Result)
	}
	key := d.Key(cycleID)
	if prior, ok := e.results[key]; ok {
		e.log.Debug().Str("key", key).Msg("duplicate submission, returning prior result")
		return prior
	}

	var res Result
	switch d.Action {
	case roles.Open:
		res = e.open(ctx, key, d)
	case roles.Close:
		res = e.close(ctx, key, d)
	case roles.Adjust:
		res = e.adjust(ctx, key, d)
	default:
		res = Result{Status: Rejected, Error: fmt.Sprintf("nothing to execute for %q", d.Action)}
	}
	res.Key = key
	res.Decision = d

	ev := e.log.Info()
	if res.Status != Filled {
		ev = e.log.Warn().Str("error", res.Error)
	}
	ev.Str("cycle", cycleID).Str("symbol", d.Symbol).Str("action", string(d.Action)).
		Str("status", string(res.Status)).Str("ref", res.BrokerRef).Float64("price", res.FilledPrice).
		Msg("executed")

	e.results[key] = res
	return res
}

func (e *Executor) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func failed(err error) Result {
	if errors.Is(err, broker.ErrOrderRejected) {
		return Result{Status: Rejected, Error: err.Error()}
	}
	return Result{Status: Errored, Error: err.Error()}
}

// levels returns stop and target prices for a position entered at entry.
func levels(pair market.Pair, dir market.Direction, entry, stopPips, targetPips float64) (sl, tp *float64) {
	pip := pair.PipSize()
	if stopPips > 0 {
		v := round(entry-dir.Sign()*stopPips*pip, pair)
		sl = &v
	}
	if targetPips > 0 {
		v := round(entry+dir.Sign()*targetPips*pip, pair)
		tp = &v
	}
	return sl, tp
}

// round keeps one digit beyond the pip.
func round(v float64, pair market.Pair) float64 {
	scale := math.Pow10(1 - pair.PipLocation())
	return math.Round(v*scale) / scale
}

func (e *Executor) open(ctx context.Context, key string, d roles.Decision) Result {
	pair, err := market.ParsePair(d.Symbol)
	if err != nil {
		return Result{Status: Rejected, Error: err.Error()}
	}
	units := math.Round(d.Size * market.UnitsPerLot)
	if units <= 0 {
		return Result{Status: Rejected, Error: "zero size"}
	}

	req := broker.MarketOrderRequest{Symbol: pair.Symbol(), Units: d.Direction.Sign() * units, ClientTag: key}
	priced := false
	if e.cfg.Mid != nil {
		if mid, ok := e.cfg.Mid(pair.Symbol()); ok && mid > 0 {
			req.StopLoss, req.TakeProfit = levels(pair, d.Direction, mid, d.StopPips, d.TargetPips)
			priced = true
		}
	}

	cctx, cancel := e.call(ctx)
	fill, err := e.broker.CreateMarketOrder(cctx, req)
	cancel()
	if err != nil {
		return failed(err)
	}

	pos := portfolio.Position{
		ID:         fill.TradeID,
		Symbol:     pair.Symbol(),
		Direction:  d.Direction,
		Units:      math.Abs(fill.Units),
		EntryPrice: fill.Price,
		EntryTime:  fill.Time,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		ClientTag:  key,
	}

	if !priced && (d.StopPips > 0 || d.TargetPips > 0) {
		sl, tp := levels(pair, d.Direction, fill.Price, d.StopPips, d.TargetPips)
		cctx, cancel := e.call(ctx)
		err := e.broker.ModifyTrade(cctx, fill.TradeID, sl, tp)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("trade", fill.TradeID).Msg("could not attach stops after fill")
		} else {
			pos.StopLoss, pos.TakeProfit = sl, tp
		}
	}

	if err := e.portfolio.ApplyFill(pos); err != nil {
		return Result{Status: Errored, BrokerRef: fill.TradeID, FilledPrice: fill.Price, Error: err.Error()}
	}
	return Result{Status: Filled, BrokerRef: fill.TradeID, FilledPrice: fill.Price, Opened: &pos}
}

func (e *Executor) close(ctx context.Context, key string, d roles.Decision) Result {
	held := e.portfolio.BySymbol(d.Symbol)
	if len(held) == 0 {
		return Result{Status: Rejected, Error: "no position on " + d.Symbol}
	}

	res := Result{Status: Filled}
	var refs, errs []string
	for _, p := range held {
		cctx, cancel := e.call(ctx)
		report, err := e.broker.CloseTrade(cctx, p.ID, d.Role)
		cancel()
		if err != nil {
			errs = append(errs, err.Error())
			res.Status = Errored
			continue
		}
		if _, err := e.portfolio.ApplyClose(report); err != nil {
			errs = append(errs, err.Error())
			res.Status = Errored
			continue
		}
		refs = append(refs, p.ID)
		res.FilledPrice = report.Price
		res.Closed = append(res.Closed, Close{Position: p, Report: report})
	}
	res.BrokerRef = strings.Join(refs, ",")
	res.Error = strings.Join(errs, "; ")
	return res
}

func (e *Executor) adjust(ctx context.Context, key string, d roles.Decision) Result {
	pair, err := market.ParsePair(d.Symbol)
	if err != nil {
		return Result{Status: Rejected, Error: err.Error()}
	}
	held := e.portfolio.BySymbol(pair.Symbol())
	if len(held) == 0 {
		return Result{Status: Rejected, Error: "no position on " + d.Symbol}
	}
	if d.StopPips <= 0 && d.TargetPips <= 0 {
		return Result{Status: Rejected, Error: "adjust without stop or target"}
	}

	res := Result{Status: Filled}
	var refs, errs []string
	for _, p := range held {
		sl, tp := levels(pair, p.Direction, p.EntryPrice, d.StopPips, d.TargetPips)
		cctx, cancel := e.call(ctx)
		err := e.broker.ModifyTrade(cctx, p.ID, sl, tp)
		cancel()
		if err == nil {
			err = e.portfolio.ApplyAdjust(p.ID, sl, tp)
		}
		if err != nil {
			errs = append(errs, err.Error())
			res.Status = Errored
			continue
		}
		refs = append(refs, p.ID)
	}
	res.BrokerRef = strings.Join(refs, ",")
	res.Error = strings.Join(errs, "; ")
	return res
}
