// Package paper is an in-memory broker that fills at the marked quote and
// enforces stop-loss and take-profit levels as prices are marked.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/pkg/id"
)

// Quote is a two sided price.
type Quote struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Config sets up the account.
type Config struct {
	AccountID  string
	Currency   string
	Balance    float64
	SpreadPips float64
}

// Engine is the paper broker. It is safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	acct       broker.Account
	spreadPips float64
	quotes     map[string]Quote
	trades     map[string]*trade
	tags       map[string]string
	orders     int
}

type trade struct {
	broker.Trade
	pair market.Pair
}

func NewEngine(cfg Config) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "paper"
	}
	return &Engine{
		acct: broker.Account{
			ID:       cfg.AccountID,
			Currency: cfg.Currency,
			Balance:  cfg.Balance,
			Equity:   cfg.Balance,
		},
		spreadPips: cfg.SpreadPips,
		quotes:     make(map[string]Quote),
		trades:     make(map[string]*trade),
		tags:       make(map[string]string),
	}
}

// Orders returns the number of orders accepted so far.
func (e *Engine) Orders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders
}

func (e *Engine) quoteFromMid(p market.Pair, mid float64, at time.Time) Quote {
	half := e.spreadPips * p.PipSize() / 2
	return Quote{Bid: mid - half, Ask: mid + half, Time: at}
}

// SetQuote records the mid price of symbol and revalues open trades without
// checking stop levels.
func (e *Engine) SetQuote(symbol string, mid float64, at time.Time) error {
	p, err := market.ParsePair(symbol)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[p.Symbol()] = e.quoteFromMid(p, mid, at)
	e.revalueLocked()
	return nil
}

// Mark applies the latest bar of each symbol: stop-loss and take-profit
// levels inside the bar's range close their trades, then the bar close
// becomes the current quote. When one bar reaches both levels the stop is
// assumed to have filled first. It returns the trades closed.
func (e *Engine) Mark(at time.Time, bars map[string]market.Candle) []broker.Closed {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make([]string, 0, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	// Quotes first so cross conversions see the whole mark.
	for _, sym := range symbols {
		bar := bars[sym]
		if p, err := market.ParsePair(sym); err == nil && bar.Close > 0 {
			e.quotes[p.Symbol()] = e.quoteFromMid(p, bar.Close, at)
		}
	}

	var closed []broker.Closed
	for _, t := range e.openLocked() {
		bar, ok := bars[t.Symbol]
		if !ok || bar.Close <= 0 {
			continue
		}
		if px, reason, hit := trigger(t, bar); hit {
			closed = append(closed, e.closeLocked(t, px, at, reason))
		}
	}
	e.revalueLocked()
	return closed
}

func trigger(t *trade, bar market.Candle) (float64, string, bool) {
	long := t.Units > 0
	if t.StopLoss != nil {
		sl := *t.StopLoss
		if (long && bar.Low <= sl) || (!long && bar.High >= sl) {
			return sl, broker.ReasonStopLoss, true
		}
	}
	if t.TakeProfit != nil {
		tp := *t.TakeProfit
		if (long && bar.High >= tp) || (!long && bar.Low <= tp) {
			return tp, broker.ReasonTakeProfit, true
		}
	}
	return 0, "", false
}

func (e *Engine) midLocked(symbol string) (float64, bool) {
	q, ok := e.quotes[symbol]
	if !ok {
		return 0, false
	}
	return q.Mid(), true
}

func (e *Engine) plLocked(t *trade, price float64) float64 {
	rate, err := market.QuoteToAccountRate(t.pair, e.acct.Currency, e.midLocked)
	if err != nil {
		// No conversion price yet; value the trade at entry.
		return 0
	}
	return t.Units * (price - t.EntryPrice) * rate
}

func (e *Engine) revalueLocked() {
	var unreal float64
	for _, t := range e.openLocked() {
		q, ok := e.quotes[t.Symbol]
		if !ok {
			continue
		}
		mark := q.Bid
		if t.Units < 0 {
			mark = q.Ask
		}
		t.UnrealizedPL = e.plLocked(t, mark)
		unreal += t.UnrealizedPL
	}
	e.acct.UnrealizedPL = unreal
	e.acct.Equity = e.acct.Balance + unreal
}

func (e *Engine) openLocked() []*trade {
	out := make([]*trade, 0, len(e.trades))
	for _, t := range e.trades {
		if t.State == broker.TradeOpen {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) closeLocked(t *trade, price float64, at time.Time, reason string) broker.Closed {
	pl := e.plLocked(t, price)
	t.State = broker.TradeClosed
	t.ClosePrice = price
	t.CloseTime = at
	t.RealizedPL = pl
	t.CloseReason = reason
	t.UnrealizedPL = 0
	e.acct.Balance += pl
	return t.Trade.Closed()
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.acct
	a.OpenTrades = len(e.openLocked())
	return a, nil
}

func (e *Engine) CreateMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderFill, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderFill{}, err
	}
	p, err := market.ParsePair(req.Symbol)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
	}
	if req.Units == 0 || math.IsNaN(req.Units) {
		return broker.OrderFill{}, fmt.Errorf("%w: zero units", broker.ErrOrderRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientTag != "" {
		if tid, ok := e.tags[req.ClientTag]; ok {
			t := e.trades[tid]
			return broker.OrderFill{TradeID: t.ID, Symbol: t.Symbol, Units: t.Units, Price: t.EntryPrice, Time: t.OpenTime}, nil
		}
	}

	q, ok := e.quotes[p.Symbol()]
	if !ok {
		return broker.OrderFill{}, fmt.Errorf("%w: %w for %s", broker.ErrOrderRejected, broker.ErrNoPrice, p.Symbol())
	}
	price := q.Ask
	if req.Units < 0 {
		price = q.Bid
	}
	at := q.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	t := &trade{
		pair: p,
		Trade: broker.Trade{
			ID:         id.At(at),
			Symbol:     p.Symbol(),
			Units:      req.Units,
			EntryPrice: price,
			OpenTime:   at,
			StopLoss:   copyPrice(req.StopLoss),
			TakeProfit: copyPrice(req.TakeProfit),
			State:      broker.TradeOpen,
			ClientTag:  req.ClientTag,
		},
	}
	e.trades[t.ID] = t
	if req.ClientTag != "" {
		e.tags[req.ClientTag] = t.ID
	}
	e.orders++
	e.revalueLocked()

	return broker.OrderFill{TradeID: t.ID, Symbol: t.Symbol, Units: t.Units, Price: price, Time: at}, nil
}

// CloseTrade closes at the current quote: longs on the bid, shorts on the ask.
func (e *Engine) CloseTrade(ctx context.Context, tradeID, reason string) (broker.Closed, error) {
	if reason == "" {
		reason = broker.ReasonManual
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok {
		return broker.Closed{}, fmt.Errorf("close trade: %w: %q", broker.ErrTradeNotFound, tradeID)
	}
	if t.State != broker.TradeOpen {
		return broker.Closed{}, fmt.Errorf("close trade: %w: %q", broker.ErrTradeAlreadyClosed, tradeID)
	}
	q, ok := e.quotes[t.Symbol]
	if !ok {
		return broker.Closed{}, fmt.Errorf("close trade: %w for %q", broker.ErrNoPrice, t.Symbol)
	}
	price := q.Bid
	if t.Units < 0 {
		price = q.Ask
	}
	c := e.closeLocked(t, price, q.Time, reason)
	e.revalueLocked()
	return c, nil
}

func (e *Engine) ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok {
		return fmt.Errorf("modify trade: %w: %q", broker.ErrTradeNotFound, tradeID)
	}
	if t.State != broker.TradeOpen {
		return fmt.Errorf("modify trade: %w: %q", broker.ErrTradeAlreadyClosed, tradeID)
	}
	if stopLoss != nil {
		t.StopLoss = copyPrice(stopLoss)
	}
	if takeProfit != nil {
		t.TakeProfit = copyPrice(takeProfit)
	}
	return nil
}

func (e *Engine) OpenTrades(ctx context.Context) ([]broker.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := e.openLocked()
	out := make([]broker.Trade, len(open))
	for i, t := range open {
		out[i] = t.Trade
	}
	return out, nil
}

func (e *Engine) GetTrade(ctx context.Context, tradeID string) (broker.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[tradeID]
	if !ok {
		return broker.Trade{}, fmt.Errorf("get trade: %w: %q", broker.ErrTradeNotFound, tradeID)
	}
	return t.Trade, nil
}

// Restore seeds the engine with trades and a balance recovered from a run
// log, so a restarted paper session agrees with its own history.
func (e *Engine) Restore(balance float64, open []broker.Trade) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bt := range open {
		p, err := market.ParsePair(bt.Symbol)
		if err != nil {
			return fmt.Errorf("restore %s: %w", bt.ID, err)
		}
		bt.State = broker.TradeOpen
		e.trades[bt.ID] = &trade{Trade: bt, pair: p}
		if bt.ClientTag != "" {
			e.tags[bt.ClientTag] = bt.ID
		}
	}
	e.acct.Balance = balance
	e.revalueLocked()
	return nil
}

func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ broker.Broker = (*Engine)(nil)
