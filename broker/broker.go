// Package broker defines what the agent needs from a trading venue.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeAlreadyClosed = errors.New("trade already closed")
	ErrOrderRejected      = errors.New("order rejected")
	ErrNoPrice            = errors.New("no price")
)

// Broker is a trading venue. Unit counts are signed: positive is long.
type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	CreateMarketOrder(ctx context.Context, req MarketOrderRequest) (OrderFill, error)
	CloseTrade(ctx context.Context, tradeID, reason string) (Closed, error)
	ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error
	OpenTrades(ctx context.Context) ([]Trade, error)
	// GetTrade returns a trade whether it is open or closed.
	GetTrade(ctx context.Context, tradeID string) (Trade, error)
}

type Account struct {
	ID           string
	Currency     string
	Balance      float64
	Equity       float64
	UnrealizedPL float64
	MarginUsed   float64
	OpenTrades   int
}

type MarketOrderRequest struct {
	Symbol     string
	Units      float64
	StopLoss   *float64
	TakeProfit *float64
	// ClientTag lets the venue recognise a resubmitted order.
	ClientTag string
}

type OrderFill struct {
	TradeID string
	Symbol  string
	Units   float64
	Price   float64
	Time    time.Time
}

// TradeState is OPEN or CLOSED.
type TradeState string

const (
	TradeOpen   TradeState = "OPEN"
	TradeClosed TradeState = "CLOSED"
)

type Trade struct {
	ID           string
	Symbol       string
	Units        float64
	EntryPrice   float64
	OpenTime     time.Time
	StopLoss     *float64
	TakeProfit   *float64
	State        TradeState
	UnrealizedPL float64
	ClientTag    string

	// Set once closed.
	ClosePrice  float64
	CloseTime   time.Time
	RealizedPL  float64
	CloseReason string
}

// Closed reports the outcome of closing a trade.
type Closed struct {
	TradeID    string
	Symbol     string
	Price      float64
	Time       time.Time
	RealizedPL float64
	Reason     string
}

// Closed returns the close report of a closed trade.
func (t Trade) Closed() Closed {
	return Closed{
		TradeID:    t.ID,
		Symbol:     t.Symbol,
		Price:      t.ClosePrice,
		Time:       t.CloseTime,
		RealizedPL: t.RealizedPL,
		Reason:     t.CloseReason,
	}
}

// Close reasons.
const (
	ReasonStopLoss   = "StopLoss"
	ReasonTakeProfit = "TakeProfit"
	ReasonManual     = "ManualClose"
)
