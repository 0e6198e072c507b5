// Package portfolio holds the authoritative set of open positions and the
// equity of the run.
//
// A Manager is not safe for concurrent use. The cycle orchestrator is its
// only writer and mutates it from one cycle at a time.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/market"
)

var (
	ErrUnknownPosition   = errors.New("unknown position")
	ErrDuplicatePosition = errors.New("duplicate position")
)

// Position is one open trade as the portfolio sees it.
type Position struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Units      float64          `json:"units"` // always positive
	EntryPrice float64          `json:"entry_price"`
	EntryTime  time.Time        `json:"entry_time"`
	StopLoss   *float64         `json:"stop_loss,omitempty"`
	TakeProfit *float64         `json:"take_profit,omitempty"`
	ClientTag  string           `json:"client_tag,omitempty"`

	UnrealizedPL float64 `json:"unrealized_pl"`
}

// Lots returns the position size in standard lots.
func (p Position) Lots() float64 { return p.Units / market.UnitsPerLot }

// SignedUnits is positive for long positions and negative for short ones.
func (p Position) SignedUnits() float64 { return p.Direction.Sign() * p.Units }

// FromTrade converts a broker trade.
func FromTrade(t broker.Trade) Position {
	units := t.Units
	if units < 0 {
		units = -units
	}
	return Position{
		ID:           t.ID,
		Symbol:       t.Symbol,
		Direction:    market.DirectionOf(t.Units),
		Units:        units,
		EntryPrice:   t.EntryPrice,
		EntryTime:    t.OpenTime,
		StopLoss:     copyPrice(t.StopLoss),
		TakeProfit:   copyPrice(t.TakeProfit),
		ClientTag:    t.ClientTag,
		UnrealizedPL: t.UnrealizedPL,
	}
}

// Manager owns the position set and the equity figures.
type Manager struct {
	positions   map[string]*Position
	startEquity float64
	balance     float64
	equity      float64
	realized    float64
	closed      int
}

// New starts a session with the given balance as its reference equity.
func New(balance float64) *Manager {
	return &Manager{
		positions:   make(map[string]*Position),
		startEquity: balance,
		balance:     balance,
		equity:      balance,
	}
}

// ApplyFill adds a position confirmed by the broker.
func (m *Manager) ApplyFill(p Position) error {
	if p.ID == "" {
		return fmt.Errorf("apply fill %s: empty trade id", p.Symbol)
	}
	if _, ok := m.positions[p.ID]; ok {
		return fmt.Errorf("apply fill %s: %w", p.ID, ErrDuplicatePosition)
	}
	if p.Units < 0 {
		p.Units = -p.Units
	}
	p.StopLoss = copyPrice(p.StopLoss)
	p.TakeProfit = copyPrice(p.TakeProfit)
	m.positions[p.ID] = &p
	return nil
}

// ApplyClose removes a position the broker reported closed and books its
// realized P&L.
func (m *Manager) ApplyClose(c broker.Closed) (Position, error) {
	p, ok := m.positions[c.TradeID]
	if !ok {
		return Position{}, fmt.Errorf("apply close %s: %w", c.TradeID, ErrUnknownPosition)
	}
	delete(m.positions, c.TradeID)
	m.realized += c.RealizedPL
	m.balance += c.RealizedPL
	m.closed++
	m.revalue()
	return *p, nil
}

// ApplyAdjust replaces the protective levels of a position. A nil level is
// left unchanged.
func (m *Manager) ApplyAdjust(id string, stopLoss, takeProfit *float64) error {
	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("apply adjust %s: %w", id, ErrUnknownPosition)
	}
	if stopLoss != nil {
		p.StopLoss = copyPrice(stopLoss)
	}
	if takeProfit != nil {
		p.TakeProfit = copyPrice(takeProfit)
	}
	return nil
}

// Mark refreshes balance, equity and unrealized P&L from broker state.
// Trades the portfolio does not hold are ignored; use Reconcile to detect
// them.
func (m *Manager) Mark(acct broker.Account, open []broker.Trade) {
	for _, t := range open {
		if p, ok := m.positions[t.ID]; ok {
			p.UnrealizedPL = t.UnrealizedPL
		}
	}
	m.balance = acct.Balance
	m.equity = acct.Equity
	if m.equity == 0 {
		m.revalue()
	}
}

func (m *Manager) revalue() {
	eq := m.balance
	for _, p := range m.positions {
		eq += p.UnrealizedPL
	}
	m.equity = eq
}

// Restore replaces the portfolio state with a recovered one. start is the
// reference equity the drawdown is measured from; zero or less means the
// restored balance.
func (m *Manager) Restore(balance, start float64, positions []Position) error {
	restored := make(map[string]*Position, len(positions))
	for _, p := range positions {
		if _, ok := restored[p.ID]; ok {
			return fmt.Errorf("restore %s: %w", p.ID, ErrDuplicatePosition)
		}
		p := p
		restored[p.ID] = &p
	}
	m.positions = restored
	m.balance = balance
	if start <= 0 {
		start = balance
	}
	m.startEquity = start
	m.revalue()
	return nil
}

// Positions returns a copy of the open positions ordered by entry time.
func (m *Manager) Positions() []Position {
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		cp.StopLoss = copyPrice(p.StopLoss)
		cp.TakeProfit = copyPrice(p.TakeProfit)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the position with the given trade id.
func (m *Manager) Get(id string) (Position, bool) {
	p, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// BySymbol returns the open positions on symbol.
func (m *Manager) BySymbol(symbol string) []Position {
	var out []Position
	for _, p := range m.Positions() {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) Count() int          { return len(m.positions) }
func (m *Manager) Balance() float64    { return m.balance }
func (m *Manager) Equity() float64     { return m.equity }
func (m *Manager) RealizedPL() float64 { return m.realized }
func (m *Manager) ClosedCount() int    { return m.closed }
func (m *Manager) StartEquity() float64 {
	return m.startEquity
}

// EquityDrawdownPct returns the change of equity since the session started
// as a fraction: -0.05 means equity is 5% below where it began.
func (m *Manager) EquityDrawdownPct() float64 {
	if m.startEquity <= 0 {
		return 0
	}
	return (m.equity - m.startEquity) / m.startEquity
}

// Exposure is the net position per currency. A long EURUSD of 10000 units
// at 1.10 is +10000 EUR and -11000 USD.
type Exposure struct {
	GrossUnits float64
	Net        map[string]float64
}

// CurrentExposure sums the open positions by currency.
func (m *Manager) CurrentExposure() Exposure {
	e := Exposure{Net: make(map[string]float64)}
	for _, p := range m.positions {
		pair, err := market.ParsePair(p.Symbol)
		if err != nil {
			continue
		}
		u := p.SignedUnits()
		e.GrossUnits += p.Units
		e.Net[pair.Base] += u
		e.Net[pair.Quote] -= u * p.EntryPrice
	}
	return e
}

// Diff is the disagreement between the portfolio and the broker.
type Diff struct {
	// Missing positions are held by the portfolio but not open at the broker.
	Missing []Position
	// Unknown trades are open at the broker but not held by the portfolio.
	Unknown []broker.Trade
}

func (d Diff) Empty() bool { return len(d.Missing) == 0 && len(d.Unknown) == 0 }

// Reconcile compares the portfolio with the broker's open trades.
func (m *Manager) Reconcile(open []broker.Trade) Diff {
	var d Diff
	seen := make(map[string]bool, len(open))
	for _, t := range open {
		seen[t.ID] = true
		if _, ok := m.positions[t.ID]; !ok {
			d.Unknown = append(d.Unknown, t)
		}
	}
	for _, p := range m.Positions() {
		if !seen[p.ID] {
			d.Missing = append(d.Missing, p)
		}
	}
	return d
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
