// Package journal is the append-only run log of the agent: one entry per
// cycle, every trade as it opens and closes, and equity snapshots. SQL
// backed journals can also be read back to rebuild state after a restart.
package journal

import (
	"context"
	"errors"
	"time"
)

// TradeRecord is a trade as journaled. It is written when the trade opens
// and again when it closes.
type TradeRecord struct {
	TradeID    string    `json:"trade_id"`
	Cycle      string    `json:"cycle,omitempty"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Units      float64   `json:"units"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time,omitempty"`
	RealizedPL float64   `json:"realized_pl"`
	Reason     string    `json:"reason,omitempty"`
	ClientTag  string    `json:"client_tag,omitempty"`
}

// Closed reports whether the record describes a closed trade.
func (t TradeRecord) Closed() bool { return !t.CloseTime.IsZero() }

type EquitySnapshot struct {
	Time          time.Time `json:"time"`
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
	OpenPositions int       `json:"open_positions"`
	Drawdown      float64   `json:"drawdown"`
}

type DecisionLine struct {
	Role       string  `json:"role"`
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Size       float64 `json:"size,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

type RejectionLine struct {
	Role   string `json:"role"`
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type ExecutionLine struct {
	Action string  `json:"action"`
	Symbol string  `json:"symbol"`
	Status string  `json:"status"`
	Ref    string  `json:"ref,omitempty"`
	Price  float64 `json:"price,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Summary is the session status at the end of a cycle.
type Summary struct {
	OpenPositions   int     `json:"open_positions"`
	MaxPositions    int     `json:"max_positions"`
	TargetPositions int     `json:"target_positions"`
	MinPositions    int     `json:"min_positions"`
	Balance         float64 `json:"balance"`
	Equity          float64 `json:"equity"`
	Drawdown        float64 `json:"drawdown"`
	TradesOpened    int     `json:"trades_opened"`
	TradesClosed    int     `json:"trades_closed"`
}

// BelowMinimum reports whether fewer positions are open than the session
// minimum.
func (s Summary) BelowMinimum() bool { return s.OpenPositions < s.MinPositions }

// CycleEntry is the closed record of one cycle.
type CycleEntry struct {
	ID         string          `json:"id"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Outcome    string          `json:"outcome"`
	Degraded   bool            `json:"degraded,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Decisions  []DecisionLine  `json:"decisions"`
	Rejections []RejectionLine `json:"rejections,omitempty"`
	Executions []ExecutionLine `json:"executions,omitempty"`
	Error      string          `json:"error,omitempty"`
	Summary    Summary         `json:"summary"`
}

// Approved counts decisions that passed the risk gate.
func (c CycleEntry) Approved() int { return len(c.Executions) }

// Journal receives the run log.
type Journal interface {
	RecordCycle(ctx context.Context, c CycleEntry) error
	RecordTrade(ctx context.Context, t TradeRecord) error
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	Close() error
}

// Store reads a journal back.
type Store interface {
	// OpenTrades returns trades journaled as opened and never closed.
	OpenTrades(ctx context.Context) ([]TradeRecord, error)
	LastEquity(ctx context.Context) (EquitySnapshot, bool, error)
	// Trades returns trades closed within [from, to).
	Trades(ctx context.Context, from, to time.Time) ([]TradeRecord, error)
	// Cycles returns up to limit most recent cycles, newest first.
	Cycles(ctx context.Context, limit int) ([]CycleEntry, error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordCycle(context.Context, CycleEntry) error      { return nil }
func (Noop) RecordTrade(context.Context, TradeRecord) error     { return nil }
func (Noop) RecordEquity(context.Context, EquitySnapshot) error { return nil }
func (Noop) Close() error                                       { return nil }

// Multi writes every entry to all sinks. A failing sink does not stop the
// others; the errors are joined.
type Multi struct {
	sinks []Journal
}

func NewMulti(sinks ...Journal) *Multi { return &Multi{sinks: sinks} }

// Store returns the first sink that can be read back.
func (m *Multi) Store() (Store, bool) {
	for _, s := range m.sinks {
		if st, ok := s.(Store); ok {
			return st, true
		}
	}
	return nil, false
}

func (m *Multi) each(fn func(Journal) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) RecordCycle(ctx context.Context, c CycleEntry) error {
	return m.each(func(j Journal) error { return j.RecordCycle(ctx, c) })
}

func (m *Multi) RecordTrade(ctx context.Context, t TradeRecord) error {
	return m.each(func(j Journal) error { return j.RecordTrade(ctx, t) })
}

func (m *Multi) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	return m.each(func(j Journal) error { return j.RecordEquity(ctx, e) })
}

func (m *Multi) Close() error {
	return m.each(func(j Journal) error { return j.Close() })
}
