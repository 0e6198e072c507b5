package snapcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rustyeddy/ufoagent/ufo"
)

// Redis shares the last snapshot between processes, e.g. a live agent and
// a dashboard, or across restarts.
type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedis wraps an existing client. Keys are <prefix>:snapshot:latest.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "ufo"
	}
	return &Redis{rdb: rdb, key: prefix + ":snapshot:latest", ttl: ttl}
}

// DialRedis parses a redis:// URL and checks the server answers.
func DialRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, prefix, ttl), nil
}

func (r *Redis) Key() string { return r.key }

func (r *Redis) Put(ctx context.Context, s ufo.Snapshot) error {
	if s.Empty() || s.Degraded() {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.rdb.Set(ctx, r.key, b, r.ttl).Err()
}

func (r *Redis) Latest(ctx context.Context) (ufo.Snapshot, bool, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ufo.Snapshot{}, false, nil
	}
	if err != nil {
		return ufo.Snapshot{}, false, err
	}
	var s ufo.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return ufo.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
