package csvdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/market"
)

const sample = `time,instrument,granularity,complete,volume,o,h,l,c
2025-07-31T09:00:00.000000000Z,EUR_USD,H1,true,100,1.1000,1.1010,1.0990,1.1005
2025-07-31T10:00:00.000000000Z,EUR_USD,H1,true,120,1.1005,1.1020,1.1000,1.1015
2025-07-31T11:00:00.000000000Z,EUR_USD,H1,true,90,1.1015,1.1030,1.1010,1.1025
2025-07-31T12:00:00.000000000Z,EUR_USD,H1,false,10,1.1025,1.1026,1.1020,1.1022
`

func TestRead(t *testing.T) {
	cs, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, cs, 3, "incomplete candle skipped")
	assert.Equal(t, 1.1005, cs[0].Close)
	assert.Equal(t, 120.0, cs[1].Volume)
	assert.Equal(t, 1.1030, cs[2].High)
}

func TestReadRejectsShortRows(t *testing.T) {
	_, err := Read(strings.NewReader("2025-07-31T09:00:00Z,EUR_USD,H1\n"))
	assert.Error(t, err)
}

func TestFetchBars(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EUR_USD_H1.csv"), []byte(sample), 0o644))

	src := New(dir)
	end := time.Date(2025, 7, 31, 10, 30, 0, 0, time.UTC)
	s, err := src.FetchBars(context.Background(), "EURUSD", market.H1, 5, &end)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "EURUSD", s.Symbol)

	s, err = src.FetchBars(context.Background(), "EURUSD", market.H1, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, 1.1025, s.Candles[0].Close)

	_, err = src.FetchBars(context.Background(), "GBPUSD", market.H1, 5, nil)
	assert.True(t, errors.Is(err, gateway.ErrDataUnavailable))
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)
	s := market.NewSeries("GBPJPY", market.M15, []market.Candle{
		{Time: at, Open: 190.1, High: 190.3, Low: 190.0, Close: 190.2, Volume: 5},
		{Time: at.Add(15 * time.Minute), Open: 190.2, High: 190.4, Low: 190.1, Close: 190.35, Volume: 7},
	})
	path, err := WriteFile(dir, s)
	require.NoError(t, err)
	assert.Equal(t, "GBPJPY_M15.csv", filepath.Base(path))

	got, err := New(dir).FetchBars(context.Background(), "GBPJPY", market.M15, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Candles, got.Candles)
}
