package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/market"
)

// Broker executes against an OANDA account.
type Broker struct {
	c *Client
}

// NewBroker requires a client bound to an account with WithAccount.
func NewBroker(c *Client) (*Broker, error) {
	if c.accountID == "" {
		return nil, errors.New("oanda broker: account id required")
	}
	return &Broker{c: c}, nil
}

func (b *Broker) path(format string, args ...any) string {
	return "/v3/accounts/" + b.c.accountID + fmt.Sprintf(format, args...)
}

type priceRef struct {
	Price string `json:"price"`
	State string `json:"state,omitempty"`
}

type clientExt struct {
	ID string `json:"id,omitempty"`
}

type apiTrade struct {
	ID               string     `json:"id"`
	Instrument       string     `json:"instrument"`
	Price            string     `json:"price"`
	OpenTime         string     `json:"openTime"`
	State            string     `json:"state"`
	CurrentUnits     string     `json:"currentUnits"`
	InitialUnits     string     `json:"initialUnits"`
	UnrealizedPL     string     `json:"unrealizedPL"`
	RealizedPL       string     `json:"realizedPL"`
	AverageClose     string     `json:"averageClosePrice"`
	CloseTime        string     `json:"closeTime"`
	StopLossOrder    *priceRef  `json:"stopLossOrder,omitempty"`
	TakeProfitOrder  *priceRef  `json:"takeProfitOrder,omitempty"`
	ClientExtensions *clientExt `json:"clientExtensions,omitempty"`
}

func num(s string) float64 {
	v, _ := parseFloat(s)
	return v
}

func stamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func (t apiTrade) toTrade() broker.Trade {
	p, _ := market.ParsePair(t.Instrument)
	out := broker.Trade{
		ID:           t.ID,
		Symbol:       p.Symbol(),
		Units:        num(t.CurrentUnits),
		EntryPrice:   num(t.Price),
		OpenTime:     stamp(t.OpenTime),
		State:        broker.TradeState(t.State),
		UnrealizedPL: num(t.UnrealizedPL),
	}
	if t.ClientExtensions != nil {
		out.ClientTag = t.ClientExtensions.ID
	}
	if t.StopLossOrder != nil {
		v := num(t.StopLossOrder.Price)
		out.StopLoss = &v
	}
	if t.TakeProfitOrder != nil {
		v := num(t.TakeProfitOrder.Price)
		out.TakeProfit = &v
	}
	if out.State == broker.TradeClosed {
		out.Units = num(t.InitialUnits)
		out.ClosePrice = num(t.AverageClose)
		out.CloseTime = stamp(t.CloseTime)
		out.RealizedPL = num(t.RealizedPL)
		out.CloseReason = "Closed"
		switch {
		case t.StopLossOrder != nil && t.StopLossOrder.State == "FILLED":
			out.CloseReason = broker.ReasonStopLoss
		case t.TakeProfitOrder != nil && t.TakeProfitOrder.State == "FILLED":
			out.CloseReason = broker.ReasonTakeProfit
		}
	}
	return out
}

func (b *Broker) GetAccount(ctx context.Context) (broker.Account, error) {
	var resp struct {
		Account struct {
			ID             string `json:"id"`
			Currency       string `json:"currency"`
			Balance        string `json:"balance"`
			NAV            string `json:"NAV"`
			UnrealizedPL   string `json:"unrealizedPL"`
			MarginUsed     string `json:"marginUsed"`
			OpenTradeCount int    `json:"openTradeCount"`
		} `json:"account"`
	}
	if err := b.c.do(ctx, http.MethodGet, b.path("/summary"), nil, nil, &resp); err != nil {
		return broker.Account{}, fmt.Errorf("get account: %w", err)
	}
	a := resp.Account
	return broker.Account{
		ID:           a.ID,
		Currency:     a.Currency,
		Balance:      num(a.Balance),
		Equity:       num(a.NAV),
		UnrealizedPL: num(a.UnrealizedPL),
		MarginUsed:   num(a.MarginUsed),
		OpenTrades:   a.OpenTradeCount,
	}, nil
}

func (b *Broker) CreateMarketOrder(ctx context.Context, req broker.MarketOrderRequest) (broker.OrderFill, error) {
	p, err := market.ParsePair(req.Symbol)
	if err != nil {
		return broker.OrderFill{}, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
	}

	order := map[string]any{
		"type":         "MARKET",
		"instrument":   p.Instrument(),
		"units":        strconv.FormatFloat(req.Units, 'f', 0, 64),
		"timeInForce":  "FOK",
		"positionFill": "DEFAULT",
	}
	if req.StopLoss != nil {
		order["stopLossOnFill"] = priceRef{Price: formatPrice(p, *req.StopLoss)}
	}
	if req.TakeProfit != nil {
		order["takeProfitOnFill"] = priceRef{Price: formatPrice(p, *req.TakeProfit)}
	}
	if req.ClientTag != "" {
		order["tradeClientExtensions"] = clientExt{ID: req.ClientTag}
	}

	var resp struct {
		OrderFillTransaction *struct {
			Time        string `json:"time"`
			Price       string `json:"price"`
			TradeOpened *struct {
				TradeID string `json:"tradeID"`
				Units   string `json:"units"`
				Price   string `json:"price"`
			} `json:"tradeOpened"`
		} `json:"orderFillTransaction"`
		OrderCancelTransaction *struct {
			Reason string `json:"reason"`
		} `json:"orderCancelTransaction"`
	}
	if err := b.c.do(ctx, http.MethodPost, b.path("/orders"), nil, map[string]any{"order": order}, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return broker.OrderFill{}, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
		}
		return broker.OrderFill{}, fmt.Errorf("create order: %w", err)
	}
	if c := resp.OrderCancelTransaction; c != nil {
		return broker.OrderFill{}, fmt.Errorf("%w: %s", broker.ErrOrderRejected, c.Reason)
	}
	f := resp.OrderFillTransaction
	if f == nil || f.TradeOpened == nil {
		return broker.OrderFill{}, fmt.Errorf("%w: no trade opened", broker.ErrOrderRejected)
	}
	price := num(f.TradeOpened.Price)
	if price == 0 {
		price = num(f.Price)
	}
	return broker.OrderFill{
		TradeID: f.TradeOpened.TradeID,
		Symbol:  p.Symbol(),
		Units:   num(f.TradeOpened.Units),
		Price:   price,
		Time:    stamp(f.Time),
	}, nil
}

func (b *Broker) CloseTrade(ctx context.Context, tradeID, reason string) (broker.Closed, error) {
	if reason == "" {
		reason = broker.ReasonManual
	}
	var resp struct {
		OrderFillTransaction *struct {
			Instrument string `json:"instrument"`
			Time       string `json:"time"`
			Price      string `json:"price"`
			PL         string `json:"pl"`
		} `json:"orderFillTransaction"`
	}
	err := b.c.do(ctx, http.MethodPut, b.path("/trades/%s/close", tradeID), nil, map[string]string{"units": "ALL"}, &resp)
	if errors.Is(err, ErrNotFound) {
		return broker.Closed{}, fmt.Errorf("close trade: %w: %q", broker.ErrTradeNotFound, tradeID)
	}
	if err != nil {
		return broker.Closed{}, fmt.Errorf("close trade: %w", err)
	}
	f := resp.OrderFillTransaction
	if f == nil {
		return broker.Closed{}, fmt.Errorf("close trade %s: %w: no fill", tradeID, broker.ErrOrderRejected)
	}
	p, _ := market.ParsePair(f.Instrument)
	return broker.Closed{
		TradeID:    tradeID,
		Symbol:     p.Symbol(),
		Price:      num(f.Price),
		Time:       stamp(f.Time),
		RealizedPL: num(f.PL),
		Reason:     reason,
	}, nil
}

func (b *Broker) ModifyTrade(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error {
	tr, err := b.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	p, _ := market.ParsePair(tr.Symbol)
	body := map[string]any{}
	if stopLoss != nil {
		body["stopLoss"] = priceRef{Price: formatPrice(p, *stopLoss)}
	}
	if takeProfit != nil {
		body["takeProfit"] = priceRef{Price: formatPrice(p, *takeProfit)}
	}
	if len(body) == 0 {
		return nil
	}
	if err := b.c.do(ctx, http.MethodPut, b.path("/trades/%s/orders", tradeID), nil, body, nil); err != nil {
		return fmt.Errorf("modify trade: %w", err)
	}
	return nil
}

func (b *Broker) OpenTrades(ctx context.Context) ([]broker.Trade, error) {
	var resp struct {
		Trades []apiTrade `json:"trades"`
	}
	if err := b.c.do(ctx, http.MethodGet, b.path("/openTrades"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("open trades: %w", err)
	}
	out := make([]broker.Trade, len(resp.Trades))
	for i, t := range resp.Trades {
		out[i] = t.toTrade()
	}
	return out, nil
}

func (b *Broker) GetTrade(ctx context.Context, tradeID string) (broker.Trade, error) {
	var resp struct {
		Trade apiTrade `json:"trade"`
	}
	err := b.c.do(ctx, http.MethodGet, b.path("/trades/%s", tradeID), nil, nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return broker.Trade{}, fmt.Errorf("get trade: %w: %q", broker.ErrTradeNotFound, tradeID)
	}
	if err != nil {
		return broker.Trade{}, fmt.Errorf("get trade: %w", err)
	}
	return resp.Trade.toTrade(), nil
}

var _ broker.Broker = (*Broker)(nil)
