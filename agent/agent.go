// Package agent assembles the components named by a configuration into a
// ready to run orchestrator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/broker/paper"
	"github.com/rustyeddy/ufoagent/config"
	"github.com/rustyeddy/ufoagent/cycle"
	"github.com/rustyeddy/ufoagent/executor"
	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/gateway/csvdir"
	"github.com/rustyeddy/ufoagent/gateway/dukascopy"
	"github.com/rustyeddy/ufoagent/gateway/synthetic"
	"github.com/rustyeddy/ufoagent/journal"
	"github.com/rustyeddy/ufoagent/llm"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/metrics"
	"github.com/rustyeddy/ufoagent/oanda"
	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/risk"
	"github.com/rustyeddy/ufoagent/roles"
	"github.com/rustyeddy/ufoagent/snapcache"
	"github.com/rustyeddy/ufoagent/ufo"
)

// Options adjust how Build treats persisted state.
type Options struct {
	// Fresh starts from the configured balance with no positions and skips
	// the database sinks. Simulations use it.
	Fresh bool
	// Text overrides the text journal destination.
	Text io.Writer
	// Started is the session start time; zero means now.
	Started time.Time
}

// Agent is a built orchestrator plus what must be closed with it.
type Agent struct {
	Orchestrator *cycle.Orchestrator
	Session      *cycle.Session
	Broker       broker.Broker
	Source       gateway.Source
	Limits       roles.Limits

	closers []func() error
}

// Close releases every resource Build opened, last opened first.
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Build wires cfg into an Agent. On error everything opened so far is
// closed.
func Build(ctx context.Context, cfg *config.Config, opts Options, log zerolog.Logger) (_ *Agent, err error) {
	a := &Agent{Limits: roles.LimitsFrom(cfg.Trading)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var oc *oanda.Client
	if cfg.Data.Source == "oanda" || cfg.Broker.Type == "oanda" {
		oc = oanda.NewClient(cfg.Broker.Token, cfg.Broker.Practice).WithAccount(cfg.Broker.AccountID)
		if cfg.Broker.BaseURL != "" {
			oc = oc.WithBaseURL(cfg.Broker.BaseURL)
		}
	}

	src, err := NewSource(cfg.Data, oc)
	if err != nil {
		return nil, err
	}
	if cfg.Trading.SymbolSuffix != "" {
		src = gateway.NewSuffixResolver(src, cfg.Trading.SymbolSuffix)
	}
	a.Source = src

	bars, err := cfg.Data.TimeframeBars()
	if err != nil {
		return nil, err
	}
	collector := gateway.NewCollector(src, gateway.CollectorConfig{
		Symbols:     a.Limits.Symbols,
		Bars:        bars,
		Timeout:     cfg.Data.FetchTimeout(),
		Concurrency: cfg.Data.Concurrency.Value(),
	}, log)

	norm, err := ufo.ParseNormalization(cfg.Trading.Normalization)
	if err != nil {
		return nil, err
	}
	calc := ufo.NewCalculator(cfg.Trading.Currencies, norm)

	cache, err := a.cache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	var completer roles.Completer
	if roles.NeedsLLM(cfg.Roles) {
		completer = llm.New(llm.Config{
			BaseURL:     cfg.Roles.LLM.BaseURL,
			APIKey:      cfg.Roles.LLM.APIKey,
			Model:       cfg.Roles.LLM.Model,
			Temperature: cfg.Roles.LLM.Temperature.Value(),
			MaxTokens:   cfg.Roles.LLM.MaxTokens.Value(),
			Timeout:     cfg.Roles.DecisionTimeout(),
		}, log)
	}
	rs, err := roles.Build(cfg.Roles, completer)
	if err != nil {
		return nil, err
	}
	panel := roles.NewPanel(cfg.Roles.DecisionTimeout(), log, rs...)
	gate := risk.NewGate(risk.Limits{
		MaxPositions:    a.Limits.MaxPositions,
		TargetPositions: a.Limits.TargetPositions,
		EquityStop:      a.Limits.EquityStop,
	})

	j, store, err := a.journal(ctx, cfg.Journal, opts)
	if err != nil {
		return nil, err
	}

	var marker cycle.Marker
	switch cfg.Broker.Type {
	case "oanda":
		ob, err := oanda.NewBroker(oc)
		if err != nil {
			return nil, err
		}
		a.Broker = ob
	default:
		engine := paper.NewEngine(paper.Config{
			Currency: cfg.Broker.AccountCurrency,
			Balance:  cfg.Broker.StartingBalance.Value(),
		})
		if !opts.Fresh && store != nil {
			if err := restorePaper(ctx, engine, store); err != nil {
				return nil, err
			}
		}
		a.Broker = engine
		marker = engine
	}

	started := opts.Started
	if started.IsZero() {
		started = time.Now().UTC()
	}
	pf := portfolio.New(cfg.Broker.StartingBalance.Value())
	a.Session = cycle.NewSession(pf, j, started)

	rctx, cancel := context.WithTimeout(ctx, cfg.Broker.OrderTimeout()+cfg.Data.FetchTimeout())
	defer cancel()
	if err := cycle.Restore(rctx, a.Broker, a.Session, store, log); err != nil {
		return nil, err
	}

	prices := cycle.NewPrices()
	exec := executor.New(a.Broker, pf, executor.Config{
		Timeout: cfg.Broker.OrderTimeout(),
		Mid:     prices.Mid,
	}, log)

	a.Orchestrator = cycle.New(cycle.Config{
		Period:        cfg.Trading.CyclePeriod(),
		Limits:        a.Limits,
		BrokerTimeout: cfg.Broker.OrderTimeout(),
	}, cycle.Deps{
		Collector:  collector,
		Calculator: calc,
		Cache:      cache,
		Panel:      panel,
		Gate:       gate,
		Executor:   exec,
		Broker:     a.Broker,
		Marker:     marker,
		Prices:     prices,
	}, a.Session, log)

	if cfg.App.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.App.MetricsAddr, log)
		if err != nil {
			log.Warn().Err(err).Msg("metrics disabled")
		} else {
			a.closers = append(a.closers, func() error {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			log.Info().Str("addr", srv.Addr).Msg("metrics listening")
		}
	}

	log.Info().
		Str("source", src.Name()).
		Str("broker", cfg.Broker.Type).
		Str("roles", cfg.Roles.Strategy).
		Int("symbols", len(a.Limits.Symbols)).
		Dur("period", cfg.Trading.CyclePeriod()).
		Msg("agent ready")
	return a, nil
}

// NewSource returns the market data source named by cfg. oc is required
// for the oanda source only.
func NewSource(cfg config.DataConfig, oc *oanda.Client) (gateway.Source, error) {
	switch cfg.Source {
	case "", "synthetic":
		return synthetic.New(int64(cfg.Seed.Value())), nil
	case "csv":
		if cfg.CSVDir == "" {
			return nil, errors.New("data.csv_dir is required for the csv source")
		}
		return csvdir.New(cfg.CSVDir), nil
	case "dukascopy":
		return dukascopy.New(cfg.DukascopyURL, cfg.DukascopyCache), nil
	case "oanda":
		if oc == nil {
			return nil, errors.New("oanda source needs a client")
		}
		return oanda.NewSource(oc), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
}

func (a *Agent) cache(ctx context.Context, cfg config.CacheConfig) (snapcache.Cache, error) {
	if cfg.Type != "redis" {
		return snapcache.NewMemory(), nil
	}
	r, err := snapcache.DialRedis(ctx, cfg.RedisURL, cfg.Prefix, cfg.TTL())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// journal opens every configured sink. The returned store is the first
// queryable sink, or nil when there is none.
func (a *Agent) journal(ctx context.Context, cfg config.JournalConfig, opts Options) (journal.Journal, journal.Store, error) {
	var sinks []journal.Journal
	switch {
	case opts.Text != nil:
		sinks = append(sinks, journal.NewText(opts.Text))
	case cfg.TextPath != "":
		t, err := journal.OpenText(cfg.TextPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, t)
	}
	if !opts.Fresh {
		if cfg.SQLitePath != "" {
			s, err := journal.NewSQLite(cfg.SQLitePath)
			if err != nil {
				closeAll(sinks)
				return nil, nil, err
			}
			sinks = append(sinks, s)
		}
		if cfg.PostgresDSN != "" {
			p, err := journal.NewPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				closeAll(sinks)
				return nil, nil, err
			}
			sinks = append(sinks, p)
		}
	}
	m := journal.NewMulti(sinks...)
	a.closers = append(a.closers, m.Close)
	if st, ok := m.Store(); ok {
		return m, st, nil
	}
	return m, nil, nil
}

func closeAll(sinks []journal.Journal) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// restorePaper reloads the simulated account from the journal so a paper
// run survives a restart like a real broker would.
func restorePaper(ctx context.Context, e *paper.Engine, store journal.Store) error {
	last, ok, err := store.LastEquity(ctx)
	if err != nil {
		return fmt.Errorf("restore paper: %w", err)
	}
	if !ok {
		return nil
	}
	open, err := store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore paper: %w", err)
	}
	trades := make([]broker.Trade, 0, len(open))
	for _, r := range open {
		dir, err := market.ParseDirection(r.Direction)
		if err != nil {
			return fmt.Errorf("restore paper: trade %s: %w", r.TradeID, err)
		}
		trades = append(trades, broker.Trade{
			ID:         r.TradeID,
			Symbol:     r.Symbol,
			Units:      dir.Sign() * r.Units,
			EntryPrice: r.EntryPrice,
			OpenTime:   r.OpenTime,
			StopLoss:   r.StopLoss,
			TakeProfit: r.TakeProfit,
			ClientTag:  r.ClientTag,
		})
	}
	return e.Restore(last.Balance, trades)
}
