// Package oanda talks to the OANDA v3 REST API: candles for market data,
// and accounts, orders and trades for execution.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/ufoagent/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// Granularity represents the time frame for candles
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	M30 Granularity = "M30"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
	W   Granularity = "W"
)

// GranularityOf maps a timeframe to its OANDA name.
func GranularityOf(tf market.Timeframe) (Granularity, error) {
	switch tf {
	case market.M1, market.M5, market.M15, market.M30, market.H1, market.H4:
		return Granularity(tf), nil
	case market.D1:
		return D, nil
	case market.W1:
		return W, nil
	}
	return "", fmt.Errorf("no oanda granularity for %q", tf)
}

// PriceComponent represents the price component for candles
type PriceComponent string

const (
	MidPrice PriceComponent = "M" // Midpoint candles
	BidPrice PriceComponent = "B" // Bid candles
	AskPrice PriceComponent = "A" // Ask candles
)

// ErrNotFound is returned for HTTP 404 responses.
var ErrNotFound = errors.New("oanda: not found")

// APIError is a non 2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client represents an OANDA API client
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

// NewClient creates a new OANDA API client
func NewClient(token string, practice bool) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithAccount returns a copy of the client bound to an account.
func (c *Client) WithAccount(accountID string) *Client {
	cp := *c
	cp.accountID = accountID
	return &cp
}

// WithBaseURL returns a copy of the client pointed at another host.
func (c *Client) WithBaseURL(u string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(u, "/")
	return &cp
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := strings.TrimSpace(string(b))
		var e struct {
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(b, &e) == nil && e.ErrorMessage != "" {
			msg = e.ErrorMessage
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CandlesRequest represents parameters for fetching historical candles
type CandlesRequest struct {
	Instrument  string         // Required: The instrument to fetch candles for (e.g., "EUR_USD")
	Price       PriceComponent // Price component (default: MidPrice)
	Granularity Granularity    // Candle granularity (default: M5)
	Count       int            // Number of candles (max 5000)
	From        *time.Time     // Start time; not combined with Count
	To          *time.Time     // End time; may be combined with Count
}

// candleData represents the OHLC data in the API response
type candleData struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

// apiCandle represents a single candle in the API response
type apiCandle struct {
	Complete bool       `json:"complete"`
	Volume   int        `json:"volume"`
	Time     string     `json:"time"`
	Mid      candleData `json:"mid,omitempty"`
	Bid      candleData `json:"bid,omitempty"`
	Ask      candleData `json:"ask,omitempty"`
}

// candlesResponse represents the API response for candles
type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// GetCandles fetches complete historical candles, oldest first.
func (c *Client) GetCandles(ctx context.Context, req CandlesRequest) ([]market.Candle, error) {
	if req.Instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}

	params := url.Values{}
	if req.Price == "" {
		req.Price = MidPrice
	}
	params.Set("price", string(req.Price))

	if req.Granularity == "" {
		req.Granularity = M5
	}
	params.Set("granularity", string(req.Granularity))

	if req.Count > 0 {
		if req.Count > 5000 {
			return nil, fmt.Errorf("count cannot exceed 5000")
		}
		params.Set("count", strconv.Itoa(req.Count))
	} else if req.From != nil {
		params.Set("from", req.From.UTC().Format(time.RFC3339))
	}
	if req.To != nil {
		params.Set("to", req.To.UTC().Format(time.RFC3339))
	}

	var apiResp candlesResponse
	if err := c.do(ctx, http.MethodGet, "/v3/instruments/"+req.Instrument+"/candles", params, nil, &apiResp); err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		// Skip incomplete candles
		if !ac.Complete {
			continue
		}

		t, err := time.Parse(time.RFC3339Nano, ac.Time)
		if err != nil {
			return nil, fmt.Errorf("parse time %s: %w", ac.Time, err)
		}

		var priceData candleData
		switch req.Price {
		case BidPrice:
			priceData = ac.Bid
		case AskPrice:
			priceData = ac.Ask
		default:
			priceData = ac.Mid
		}

		var ohlc [4]float64
		for i, s := range []string{priceData.O, priceData.H, priceData.L, priceData.C} {
			v, err := parseFloat(s)
			if err != nil {
				return nil, fmt.Errorf("parse price at %s: %w", ac.Time, err)
			}
			ohlc[i] = v
		}

		candles = append(candles, market.Candle{
			Time:   t.UTC(),
			Open:   ohlc[0],
			High:   ohlc[1],
			Low:    ohlc[2],
			Close:  ohlc[3],
			Volume: float64(ac.Volume),
		})
	}

	return candles, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatPrice(p market.Pair, v float64) string {
	digits := 5
	if p.PipLocation() == -2 {
		digits = 3
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}
