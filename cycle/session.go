package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/journal"
	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/roles"
)

// Session is the process scoped state of a run: the portfolio and the run
// log, plus counters for the session summary. It lives from process start
// to shutdown and is passed to the orchestrator explicitly.
type Session struct {
	Portfolio *portfolio.Manager
	Journal   journal.Journal
	Started   time.Time

	Cycles   int
	Degraded int
	Opened   int
	Closed   int
}

func NewSession(pf *portfolio.Manager, j journal.Journal, started time.Time) *Session {
	if j == nil {
		j = journal.Noop{}
	}
	return &Session{Portfolio: pf, Journal: j, Started: started}
}

// Summary reports positions against the session limits.
func (s *Session) Summary(l roles.Limits) journal.Summary {
	return journal.Summary{
		OpenPositions:   s.Portfolio.Count(),
		MaxPositions:    l.MaxPositions,
		TargetPositions: l.TargetPositions,
		MinPositions:    l.MinPositions,
		Balance:         s.Portfolio.Balance(),
		Equity:          s.Portfolio.Equity(),
		Drawdown:        s.Portfolio.EquityDrawdownPct(),
		TradesOpened:    s.Opened,
		TradesClosed:    s.Closed,
	}
}

// OpenedRecord is the journal form of a newly filled position.
func OpenedRecord(cycleID string, p portfolio.Position) journal.TradeRecord {
	return journal.TradeRecord{
		TradeID:    p.ID,
		Cycle:      cycleID,
		Symbol:     p.Symbol,
		Direction:  string(p.Direction),
		Units:      p.Units,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		OpenTime:   p.EntryTime,
		ClientTag:  p.ClientTag,
	}
}

// ClosedRecord is the journal form of a closed position.
func ClosedRecord(cycleID string, p portfolio.Position, c broker.Closed) journal.TradeRecord {
	r := OpenedRecord(cycleID, p)
	r.ExitPrice = c.Price
	r.CloseTime = c.Time
	r.RealizedPL = c.RealizedPL
	r.Reason = c.Reason
	return r
}

// Restore rebuilds the portfolio after a restart. The broker is the source
// of truth for what is open; the journal fills in what happened while the
// process was down. Trades the journal still shows open but the broker has
// closed are journaled as closed.
func Restore(ctx context.Context, b broker.Broker, sess *Session, store journal.Store, log zerolog.Logger) error {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("restore: account: %w", err)
	}
	open, err := b.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore: open trades: %w", err)
	}
	positions := make([]portfolio.Position, 0, len(open))
	atBroker := make(map[string]bool, len(open))
	for _, t := range open {
		positions = append(positions, portfolio.FromTrade(t))
		atBroker[t.ID] = true
	}
	start, err := restoredBaseline(ctx, store)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := sess.Portfolio.Restore(acct.Balance, start, positions); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	sess.Portfolio.Mark(acct, open)

	if store == nil {
		log.Info().Int("positions", len(positions)).Float64("balance", acct.Balance).Msg("portfolio restored from broker")
		return nil
	}

	journaled, err := store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("restore: journal: %w", err)
	}
	for _, jt := range journaled {
		if atBroker[jt.TradeID] {
			continue
		}
		t, err := b.GetTrade(ctx, jt.TradeID)
		if errors.Is(err, broker.ErrTradeNotFound) {
			log.Warn().Str("trade", jt.TradeID).Str("symbol", jt.Symbol).Msg("journaled trade unknown to broker")
			continue
		}
		if err != nil {
			return fmt.Errorf("restore: trade %s: %w", jt.TradeID, err)
		}
		if t.State != broker.TradeClosed {
			continue
		}
		c := t.Closed()
		jt.ExitPrice, jt.CloseTime, jt.RealizedPL, jt.Reason = c.Price, c.Time, c.RealizedPL, c.Reason
		if err := sess.Journal.RecordTrade(ctx, jt); err != nil {
			log.Warn().Err(err).Str("trade", jt.TradeID).Msg("could not journal close found on restart")
		}
		log.Info().Str("trade", jt.TradeID).Str("symbol", jt.Symbol).Float64("pl", c.RealizedPL).
			Str("reason", c.Reason).Msg("trade closed while down")
	}
	log.Info().Int("positions", len(positions)).Float64("balance", acct.Balance).
		Float64("start_equity", sess.Portfolio.StartEquity()).
		Int("journaled_open", len(journaled)).Msg("portfolio restored")
	return nil
}

// restoredBaseline recovers the equity the interrupted run measured its
// drawdown from. Zero means there is nothing to carry over.
func restoredBaseline(ctx context.Context, store journal.Store) (float64, error) {
	if store == nil {
		return 0, nil
	}
	last, ok, err := store.LastEquity(ctx)
	if err != nil {
		return 0, fmt.Errorf("last equity: %w", err)
	}
	if !ok || last.Equity <= 0 || last.Drawdown <= -1 {
		return 0, nil
	}
	return last.Equity / (1 + last.Drawdown), nil
}
