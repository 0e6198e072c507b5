package oanda

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

// candleServer answers every request with resp and hands the query string
// of the last request to the test.
func candleServer(t *testing.T, resp candlesResponse) (*Client, *url.Values) {
	t.Helper()
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		got = r.URL.Query()
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient("tok", true).WithBaseURL(srv.URL), &got
}

func TestNewClientEnvironment(t *testing.T) {
	assert.Equal(t, PracticeURL, NewClient("tok", true).baseURL)
	assert.Equal(t, LiveURL, NewClient("tok", false).baseURL)

	c := NewClient("tok", true).WithAccount("101-1").WithBaseURL("http://x/")
	assert.Equal(t, "http://x", c.baseURL)
	assert.NotNil(t, c.httpClient)
}

func TestGetCandlesPriceComponents(t *testing.T) {
	resp := candlesResponse{Candles: []apiCandle{{
		Complete: true,
		Volume:   120,
		Time:     "2024-01-01T10:00:00.000000000Z",
		Mid:      candleData{O: "1.0850", H: "1.0860", L: "1.0840", C: "1.0855"},
		Bid:      candleData{O: "1.0849", H: "1.0859", L: "1.0839", C: "1.0854"},
		Ask:      candleData{O: "1.0851", H: "1.0861", L: "1.0841", C: "1.0856"},
	}}}

	tests := []struct {
		name      string
		price     PriceComponent
		wantParam string
		wantClose float64
	}{
		{"default", "", "M", 1.0855},
		{"mid", MidPrice, "M", 1.0855},
		{"bid", BidPrice, "B", 1.0854},
		{"ask", AskPrice, "A", 1.0856},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, q := candleServer(t, resp)
			candles, err := c.GetCandles(context.Background(), CandlesRequest{
				Instrument: "EUR_USD", Price: tt.price, Granularity: H1, Count: 10,
			})
			require.NoError(t, err)
			require.Len(t, candles, 1)
			assert.Equal(t, tt.wantParam, q.Get("price"))
			assert.Equal(t, "H1", q.Get("granularity"))
			assert.Equal(t, "10", q.Get("count"))
			assert.Equal(t, tt.wantClose, candles[0].Close)
			assert.Equal(t, 120.0, candles[0].Volume)
			assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), candles[0].Time)
		})
	}
}

func TestGetCandlesSkipsForming(t *testing.T) {
	c, _ := candleServer(t, candlesResponse{Candles: []apiCandle{
		{Complete: true, Time: "2024-01-01T10:00:00Z", Mid: candleData{O: "150.10", H: "150.30", L: "150.00", C: "150.20"}},
		{Complete: false, Time: "2024-01-01T11:00:00Z", Mid: candleData{O: "150.20", H: "150.40", L: "150.10", C: "150.35"}},
	}})
	candles, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "USD_JPY", Count: 2})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 150.20, candles[0].Close)
}

func TestGetCandlesQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	c, q := candleServer(t, candlesResponse{})
	_, err := c.GetCandles(context.Background(), CandlesRequest{Instrument: "EUR_USD", Granularity: H1, From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("from"))
	assert.Equal(t, "2024-01-02T00:00:00Z", q.Get("to"))
	assert.Empty(t, q.Get("count"))

	_, err = c.GetCandles(context.Background(), CandlesRequest{Instrument: "EUR_USD"})
	require.NoError(t, err)
	assert.Equal(t, "M5", q.Get("granularity"), "default granularity")
}

func TestGetCandlesErrors(t *testing.T) {
	c := NewClient("tok", true)
	_, err := c.GetCandles(context.Background(), CandlesRequest{Count: 10})
	assert.ErrorContains(t, err, "instrument is required")

	_, err = c.GetCandles(context.Background(), CandlesRequest{Instrument: "EUR_USD", Count: 6000})
	assert.ErrorContains(t, err, "cannot exceed 5000")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorMessage": "Invalid access token"}`))
	}))
	defer srv.Close()

	_, err = NewClient("bad", true).WithBaseURL(srv.URL).GetCandles(context.Background(), CandlesRequest{Instrument: "EUR_USD", Count: 10})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, err.Error(), "Invalid access token")
}

func TestGetCandles_CountWithTo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		assert.Equal(t, "2024-01-02T00:00:00Z", r.URL.Query().Get("to"))
		assert.Empty(t, r.URL.Query().Get("from"))
		json.NewEncoder(w).Encode(candlesResponse{})
	}))
	defer server.Close()

	client := NewClient("test-token", true).WithBaseURL(server.URL)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := client.GetCandles(context.Background(), CandlesRequest{Instrument: "EUR_USD", Granularity: H1, Count: 20, To: &to})
	require.NoError(t, err)
}

func TestGranularityOf(t *testing.T) {
	g, err := GranularityOf(market.D1)
	require.NoError(t, err)
	assert.Equal(t, D, g)

	g, err = GranularityOf(market.M15)
	require.NoError(t, err)
	assert.Equal(t, M15, g)
}

func TestSourceFetchBars(t *testing.T) {
	var gotTo string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/instruments/GBP_JPY/candles", r.URL.Path)
		assert.Equal(t, "H4", r.URL.Query().Get("granularity"))
		gotTo = r.URL.Query().Get("to")
		json.NewEncoder(w).Encode(candlesResponse{Candles: []apiCandle{
			{Complete: true, Time: "2024-01-01T04:00:00Z", Mid: candleData{O: "190.1", H: "190.5", L: "190.0", C: "190.4"}},
			{Complete: true, Time: "2024-01-01T00:00:00Z", Mid: candleData{O: "190.0", H: "190.2", L: "189.9", C: "190.1"}},
		}})
	}))
	defer server.Close()

	src := NewSource(NewClient("tok", true).WithBaseURL(server.URL))

	// A historical end is forwarded.
	end := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s, err := src.FetchBars(context.Background(), "GBPJPY", market.H4, 2, &end)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T08:00:00Z", gotTo)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "GBPJPY", s.Symbol)
	assert.Equal(t, 190.1, s.Candles[0].Close, "sorted oldest first")

	// A live end is left to the server clock.
	now := time.Now()
	_, err = src.FetchBars(context.Background(), "GBPJPY", market.H4, 2, &now)
	require.NoError(t, err)
	assert.Empty(t, gotTo)
}

func TestSourceFetchBarsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candlesResponse{})
	}))
	defer server.Close()

	src := NewSource(NewClient("tok", true).WithBaseURL(server.URL))
	_, err := src.FetchBars(context.Background(), "EURUSD", market.H1, 2, nil)
	assert.True(t, errors.Is(err, gateway.ErrDataUnavailable))
}
