package snapcache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/ufo"
)

var at = time.Date(2025, 7, 31, 9, 0, 0, 0, time.UTC)

func snapshot(v float64) ufo.Snapshot {
	return ufo.NewCalculator(nil, ufo.NormalizeNone).Generate(at, ufo.Sums{market.H1: {"EURUSD": {v}}})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, snapshot(0.4)))
	require.NoError(t, m.Put(ctx, ufo.Snapshot{}))                 // empty: ignored
	require.NoError(t, m.Put(ctx, snapshot(9).AsDegraded("cache"))) // degraded: ignored

	s, ok, err := m.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := s.Strength(market.H1, "EUR")
	assert.Equal(t, 0.4, v)
}

func TestRedisKey(t *testing.T) {
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", time.Hour)
	defer r.Close()
	assert.Equal(t, "ufo:snapshot:latest", r.Key())
}

func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("UFO_TEST_REDIS_URL")
	if url == "" {
		t.Skip("UFO_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := DialRedis(ctx, url, "ufotest", time.Minute)
	require.NoError(t, err)
	defer r.Close()
	defer r.rdb.Del(ctx, r.Key())

	require.NoError(t, r.Put(ctx, snapshot(0.25)))
	s, ok, err := r.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Time().Equal(at))
	v, _ := s.Strength(market.H1, "USD")
	assert.Equal(t, -0.25, v)
}
