package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

type rawTick struct {
	ms       uint32
	ask, bid uint32
	vol      float32
}

func encode(t *testing.T, ticks []rawTick) []byte {
	t.Helper()
	var plain bytes.Buffer
	for _, tk := range ticks {
		rec := make([]byte, recordSize)
		binary.BigEndian.PutUint32(rec[0:4], tk.ms)
		binary.BigEndian.PutUint32(rec[4:8], tk.ask)
		binary.BigEndian.PutUint32(rec[8:12], tk.bid)
		binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(tk.vol))
		binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(tk.vol))
		plain.Write(rec)
	}

	var out bytes.Buffer
	w, err := lzma.NewWriter(&out)
	require.NoError(t, err)
	_, err = w.Write(plain.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

func TestHourURLUsesZeroBasedMonth(t *testing.T) {
	at := time.Date(2025, time.January, 5, 13, 40, 0, 0, time.UTC)
	assert.Equal(t, "https://x/EURUSD/2025/00/05/13h_ticks.bi5", HourURL("https://x", "EURUSD", at))
}

func TestDecompressAndDecode(t *testing.T) {
	hour := time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC)
	bi5 := encode(t, []rawTick{{ms: 1500, ask: 110012, bid: 110010, vol: 1.5}})

	data, err := Decompress(bi5)
	require.NoError(t, err)
	ticks, err := Decode(data, hour, 1e-5)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, hour.Add(1500*time.Millisecond), ticks[0].Time)
	assert.InDelta(t, 1.10012, ticks[0].Ask, 1e-9)
	assert.InDelta(t, 1.10011, ticks[0].Mid(), 1e-9)
	assert.InDelta(t, 1.5, ticks[0].BidVol, 1e-6)

	_, err = Decode(data[:7], hour, 1e-5)
	assert.Error(t, err)
}

func TestAggregate(t *testing.T) {
	h := time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC)
	ticks := []Tick{
		{Time: h.Add(1 * time.Minute), Ask: 1.1002, Bid: 1.1000},
		{Time: h.Add(3 * time.Minute), Ask: 1.1012, Bid: 1.1010},
		{Time: h.Add(4 * time.Minute), Ask: 1.0992, Bid: 1.0990},
		{Time: h.Add(6 * time.Minute), Ask: 1.1006, Bid: 1.1004},
	}
	s := Aggregate("EURUSD", market.M5, ticks)
	require.Equal(t, 2, s.Len())
	c := s.Candles[0]
	assert.Equal(t, h, c.Time)
	assert.InDelta(t, 1.1001, c.Open, 1e-9)
	assert.InDelta(t, 1.1011, c.High, 1e-9)
	assert.InDelta(t, 1.0991, c.Low, 1e-9)
	assert.InDelta(t, 1.0991, c.Close, 1e-9)
	assert.Equal(t, h.Add(5*time.Minute), s.Candles[1].Time)
}

func TestFetchBarsFromServer(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if !strings.Contains(r.URL.Path, "/USDJPY/2025/06/31/") {
			http.NotFound(w, r)
			return
		}
		// Two ticks per hour, ten minutes in.
		_, _ = w.Write(encode(t, []rawTick{
			{ms: 600_000, ask: 150_105, bid: 150_095, vol: 1},
			{ms: 610_000, ask: 150_205, bid: 150_195, vol: 1},
		}))
	}))
	defer srv.Close()

	cache := t.TempDir()
	src := New(srv.URL, cache)
	end := time.Date(2025, 7, 31, 12, 30, 0, 0, time.UTC)

	s, err := src.FetchBars(context.Background(), "USDJPY", market.H1, 3, &end)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC), s.Candles[0].Time)
	assert.InDelta(t, 150.1, s.Candles[0].Open, 1e-6)
	assert.InDelta(t, 150.2, s.Candles[0].Close, 1e-6)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	// A fresh source reads the disk cache instead of the server.
	_, err = New(srv.URL, cache).FetchBars(context.Background(), "USDJPY", market.H1, 3, &end)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	_, err = src.FetchBars(context.Background(), "EURUSD", market.H1, 2, &end)
	assert.True(t, errors.Is(err, gateway.ErrDataUnavailable))
}
