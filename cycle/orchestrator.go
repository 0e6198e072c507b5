package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/executor"
	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/journal"
	"github.com/rustyeddy/ufoagent/logger"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/metrics"
	"github.com/rustyeddy/ufoagent/pkg/id"
	"github.com/rustyeddy/ufoagent/risk"
	"github.com/rustyeddy/ufoagent/roles"
	"github.com/rustyeddy/ufoagent/snapcache"
	"github.com/rustyeddy/ufoagent/ufo"
)

// Marker is a simulated venue that needs to see each cycle's bars to move
// its prices and trigger stops.
type Marker interface {
	Mark(at time.Time, bars map[string]market.Candle) []broker.Closed
}

// Config holds the loop settings.
type Config struct {
	// Period between cycle starts.
	Period time.Duration
	Limits roles.Limits
	// BrokerTimeout bounds each reconciliation call.
	BrokerTimeout time.Duration
}

// Deps are the components a cycle drives. Cache, Marker and Prices are
// optional.
type Deps struct {
	Collector  *gateway.Collector
	Calculator *ufo.Calculator
	Cache      snapcache.Cache
	Panel      *roles.Panel
	Gate       risk.Gate
	Executor   *executor.Executor
	Broker     broker.Broker
	Marker     Marker
	Prices     *Prices
}

// Orchestrator runs cycles one at a time.
type Orchestrator struct {
	cfg  Config
	deps Deps
	sess *Session
	log  zerolog.Logger
	now  func() time.Time

	mu    sync.Mutex // held for the whole of a cycle
	state atomic.Int32
	fault error
}

func New(cfg Config, deps Deps, sess *Session, log zerolog.Logger) *Orchestrator {
	if deps.Prices == nil {
		deps.Prices = NewPrices()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		sess: sess,
		log:  log.With().Str("component", "cycle").Logger(),
		now:  time.Now,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Session returns the process state the orchestrator writes to.
func (o *Orchestrator) Session() *Session { return o.sess }

// Fault returns the error that faulted the loop, nil when not faulted.
func (o *Orchestrator) Fault() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.State() != Faulted {
		return nil
	}
	return o.fault
}

// Reset clears a fault so cycles can run again. Resolve the desync before
// calling it, for example with Restore.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.State() == Faulted {
		o.log.Warn().AnErr("fault", o.fault).Msg("fault cleared")
	}
	o.fault = nil
	o.state.Store(int32(Idle))
}

func (o *Orchestrator) enter(rec *Record, s State) {
	cur := o.State()
	if s != Faulted && next[cur] != s {
		// Programming error; keep going but make it visible.
		o.log.Error().Str("from", cur.String()).Str("to", s.String()).Msg("unexpected transition")
	}
	o.state.Store(int32(s))
	rec.Path = append(rec.Path, s)
	o.log.Debug().Str("cycle", rec.ID).Str("state", s.String()).Msg("transition")
}

// RunCycle runs one full cycle with bars collected up to ref. It always
// returns a closed record. The error is non-nil only when the cycle faulted
// or the orchestrator was already faulted.
func (o *Orchestrator) RunCycle(ctx context.Context, ref time.Time) (Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.State() == Faulted {
		return Record{Ref: ref, State: Faulted, Outcome: OutcomeFaulted, Err: o.fault},
			fmt.Errorf("%w: %v", ErrFaulted, o.fault)
	}

	start := o.now()
	rec := Record{ID: id.At(ref), Start: start, Ref: ref}
	err := o.steps(ctx, &rec)
	o.finish(ctx, &rec, err)

	if rec.State == Faulted {
		return rec, rec.Err
	}
	return rec, nil
}

func (o *Orchestrator) steps(ctx context.Context, rec *Record) error {
	log := o.log.With().Str("cycle", rec.ID).Logger()
	pf := o.sess.Portfolio

	o.enter(rec, CollectingData)
	frame, stats := o.deps.Collector.Collect(ctx, rec.Ref)
	rec.Stats = stats
	for _, f := range stats.Failures {
		metrics.FetchFailures.WithLabelValues(string(f.Timeframe)).Inc()
	}
	bars := o.deps.Prices.Update(frame, o.deps.Collector.Symbols())
	if o.deps.Marker != nil && len(bars) > 0 {
		for _, c := range o.deps.Marker.Mark(rec.Ref, bars) {
			if err := o.bookClose(ctx, rec, c, log); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.enter(rec, ComputingSignals)
	rec.Snapshot, rec.Issues = o.signals(ctx, rec.Ref, frame, stats, log)

	o.enter(rec, AwaitingDecisions)
	in := roles.Input{
		Cycle:     rec.ID,
		Time:      rec.Ref,
		Snapshot:  rec.Snapshot,
		Positions: pf.Positions(),
		Equity:    pf.Equity(),
		Drawdown:  pf.EquityDrawdownPct(),
		Limits:    o.cfg.Limits,
	}
	rec.Decisions, rec.Failures = o.deps.Panel.Run(ctx, in)
	for _, d := range rec.Decisions {
		metrics.DecisionsTotal.WithLabelValues(d.Role, string(d.Action)).Inc()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.enter(rec, RiskChecking)
	res := o.deps.Gate.Evaluate(rec.Decisions, pf.Positions(), pf.EquityDrawdownPct())
	rec.Approved, rec.Rejected = res.Approved, res.Rejected
	for _, r := range res.Rejected {
		metrics.RejectionsTotal.WithLabelValues(r.Reason).Inc()
		log.Info().Str("role", r.Decision.Role).Str("symbol", r.Decision.Symbol).
			Str("action", string(r.Decision.Action)).Str("reason", r.Reason).Str("detail", r.Detail).
			Msg("decision rejected")
	}

	o.enter(rec, Executing)
	for _, d := range rec.Approved {
		if ctx.Err() != nil {
			break
		}
		r := o.deps.Executor.Execute(ctx, rec.ID, d)
		rec.Executions = append(rec.Executions, r)
		metrics.OrdersTotal.WithLabelValues(d.Symbol, string(r.Status)).Inc()
		o.journalExecution(ctx, rec.ID, r, log)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.enter(rec, Monitoring)
	return o.monitor(ctx, rec, log)
}

// signals computes the snapshot, falling back to the cached one and then
// to an empty one when no live bars are usable.
func (o *Orchestrator) signals(ctx context.Context, ref time.Time, frame market.Frame, stats gateway.Stats, log zerolog.Logger) (ufo.Snapshot, []ufo.Issue) {
	var issues []ufo.Issue
	if stats.Available() {
		var snap ufo.Snapshot
		snap, issues = o.deps.Calculator.Compute(ref, frame)
		for _, is := range issues {
			log.Warn().Str("symbol", is.Symbol).Str("timeframe", string(is.Timeframe)).Err(is.Err).Msg("series skipped")
		}
		if !snap.Empty() {
			if o.deps.Cache != nil {
				if err := o.deps.Cache.Put(ctx, snap); err != nil {
					log.Warn().Err(err).Msg("snapshot cache write failed")
				}
			}
			return snap, issues
		}
	}

	metrics.Degraded.Inc()
	o.sess.Degraded++
	if o.deps.Cache != nil {
		cached, ok, err := o.deps.Cache.Latest(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("snapshot cache read failed")
		case ok && !cached.Time().After(ref):
			log.Warn().Int("requested", stats.Requested).Time("cached_at", cached.Time()).
				Msg("DEGRADED: no live bars, using cached signals")
			return cached.AsDegraded("cache"), issues
		}
	}
	log.Warn().Int("requested", stats.Requested).Msg("DEGRADED: no live bars and no cached signals")
	return o.deps.Calculator.Generate(ref, nil).AsDegraded("empty"), issues
}

func (o *Orchestrator) journalExecution(ctx context.Context, cycleID string, r executor.Result, log zerolog.Logger) {
	j := o.sess.Journal
	if r.Opened != nil {
		o.sess.Opened++
		if err := j.RecordTrade(ctx, OpenedRecord(cycleID, *r.Opened)); err != nil {
			log.Warn().Err(err).Str("trade", r.Opened.ID).Msg("journal write failed")
		}
	}
	for _, c := range r.Closed {
		o.sess.Closed++
		if err := j.RecordTrade(ctx, ClosedRecord(cycleID, c.Position, c.Report)); err != nil {
			log.Warn().Err(err).Str("trade", c.Position.ID).Msg("journal write failed")
		}
	}
}

// bookClose applies a close the broker made on its own.
func (o *Orchestrator) bookClose(ctx context.Context, rec *Record, c broker.Closed, log zerolog.Logger) error {
	pos, err := o.sess.Portfolio.ApplyClose(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateDesync, err)
	}
	rec.Closed = append(rec.Closed, c)
	o.sess.Closed++
	log.Info().Str("trade", c.TradeID).Str("symbol", c.Symbol).Float64("pl", c.RealizedPL).
		Str("reason", c.Reason).Msg("position closed by broker")
	if err := o.sess.Journal.RecordTrade(ctx, ClosedRecord(rec.ID, pos, c)); err != nil {
		log.Warn().Err(err).Str("trade", c.TradeID).Msg("journal write failed")
	}
	return nil
}

func (o *Orchestrator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.BrokerTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.BrokerTimeout)
	}
	return context.WithCancel(ctx)
}

// monitor reconciles the portfolio with the broker. Positions the broker
// closed on its own are booked; anything the broker cannot account for is
// a desync.
func (o *Orchestrator) monitor(ctx context.Context, rec *Record, log zerolog.Logger) error {
	pf := o.sess.Portfolio
	b := o.deps.Broker

	cctx, cancel := o.call(ctx)
	open, err := b.OpenTrades(cctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("could not refresh positions from broker")
		return nil
	}

	diff := pf.Reconcile(open)
	for _, p := range diff.Missing {
		cctx, cancel := o.call(ctx)
		t, err := b.GetTrade(cctx, p.ID)
		cancel()
		switch {
		case errors.Is(err, broker.ErrTradeNotFound):
			return fmt.Errorf("%w: position %s %s unknown to broker", ErrStateDesync, p.ID, p.Symbol)
		case err != nil:
			log.Warn().Err(err).Str("trade", p.ID).Msg("could not look up missing position")
			continue
		case t.State != broker.TradeClosed:
			return fmt.Errorf("%w: position %s %s open at broker but not listed", ErrStateDesync, p.ID, p.Symbol)
		}
		if err := o.bookClose(ctx, rec, t.Closed(), log); err != nil {
			return err
		}
	}
	if len(diff.Unknown) > 0 {
		ids := make([]string, len(diff.Unknown))
		for i, t := range diff.Unknown {
			ids[i] = t.ID + " " + t.Symbol
		}
		return fmt.Errorf("%w: broker holds trades the portfolio does not: %s", ErrStateDesync, strings.Join(ids, ", "))
	}

	cctx, cancel = o.call(ctx)
	acct, err := b.GetAccount(cctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("could not refresh account from broker")
		return nil
	}
	pf.Mark(acct, open)
	return nil
}

// finish closes the record, journals it and returns the loop to Idle or
// Faulted.
func (o *Orchestrator) finish(ctx context.Context, rec *Record, err error) {
	wctx := context.WithoutCancel(ctx)
	log := o.log.With().Str("cycle", rec.ID).Logger()
	pf := o.sess.Portfolio

	o.sess.Cycles++
	rec.Err = err
	rec.State = Idle
	switch {
	case errors.Is(err, ErrStateDesync):
		rec.State = Faulted
		rec.Outcome = OutcomeFaulted
		o.fault = err
		log.Error().Err(err).Msg("FAULTED: portfolio no longer trusted, cycles halted until reset")
	case err != nil:
		rec.Outcome = OutcomeCancelled
		log.Warn().Err(err).Str("state", o.State().String()).Msg("cycle cancelled")
	case rec.Degraded():
		rec.Outcome = OutcomeDegraded
	default:
		rec.Outcome = OutcomeOK
	}

	rec.Summary = o.sess.Summary(o.cfg.Limits)
	rec.End = o.now()

	if jerr := o.sess.Journal.RecordCycle(wctx, rec.Entry()); jerr != nil {
		log.Warn().Err(jerr).Msg("journal cycle write failed")
	}
	if rec.State == Idle {
		if jerr := o.sess.Journal.RecordEquity(wctx, o.equitySnapshot(rec.Ref)); jerr != nil {
			log.Warn().Err(jerr).Msg("journal equity write failed")
		}
	}

	metrics.CyclesTotal.WithLabelValues(rec.Outcome).Inc()
	metrics.CycleDuration.Observe(rec.End.Sub(rec.Start).Seconds())
	metrics.Equity.Set(pf.Equity())
	metrics.OpenPositions.Set(float64(pf.Count()))

	s := rec.Summary
	ev := log.Info()
	if s.BelowMinimum() {
		ev = log.Warn()
	}
	ev.Str("outcome", rec.Outcome).Bool("degraded", rec.Degraded()).
		Int("decisions", len(rec.Decisions)).Int("approved", len(rec.Approved)).
		Int("rejected", len(rec.Rejected)).Int("executed", len(rec.Executions)).
		Int("open", s.OpenPositions).Int("max", s.MaxPositions).Int("target", s.TargetPositions).
		Int("minimum", s.MinPositions).Bool("below_minimum", s.BelowMinimum()).
		Float64("equity", s.Equity).Float64("drawdown", s.Drawdown).
		Dur("elapsed", rec.End.Sub(rec.Start)).Msg("cycle closed")

	rec.Path = append(rec.Path, rec.State)
	o.state.Store(int32(rec.State))
}

func (o *Orchestrator) equitySnapshot(at time.Time) journal.EquitySnapshot {
	pf := o.sess.Portfolio
	var unreal float64
	for _, p := range pf.Positions() {
		unreal += p.UnrealizedPL
	}
	return journal.EquitySnapshot{
		Time:          at,
		Balance:       pf.Balance(),
		Equity:        pf.Equity(),
		UnrealizedPL:  unreal,
		OpenPositions: pf.Count(),
		Drawdown:      pf.EquityDrawdownPct(),
	}
}

// Run executes a cycle immediately and then every period until ctx is done.
// A cycle that is still running when the next is due causes that tick to be
// skipped. Run returns nil on cancellation and the fault when a cycle
// faults.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Period <= 0 {
		return fmt.Errorf("cycle: period must be positive, got %s", o.cfg.Period)
	}

	faulted := make(chan error, 1)
	tick := func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.RunCycle(ctx, o.now().UTC()); err != nil {
			select {
			case faulted <- err:
			default:
			}
		}
	}

	tick()
	select {
	case err := <-faulted:
		return err
	default:
	}

	cl := logger.Cron{L: o.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", o.cfg.Period), tick); err != nil {
		return fmt.Errorf("cycle: schedule: %w", err)
	}
	c.Start()
	o.log.Info().Dur("period", o.cfg.Period).Msg("cycle loop started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-faulted:
	}
	<-c.Stop().Done()
	o.log.Info().Msg("cycle loop stopped")
	return err
}
