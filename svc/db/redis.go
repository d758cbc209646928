package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"wordbin/pkg/domain"
)

// Redis serves two concerns when configured: a look-aside paste cache
// keyed by encoded identifier, and shared per-IP rate-limit counters so
// limits hold across replicas. The in-memory store stays authoritative;
// a missing REDIS_URL disables both and everything falls back to local
// state.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, timeout time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{client: client, timeout: timeout}, nil
}

func pasteKey(encodedID string) string { return "paste:" + encodedID }

// CachePaste stores a paste until its deadline. A zero ttl means the
// paste never expires and the entry persists until evicted explicitly.
func (r *Redis) CachePaste(ctx context.Context, encodedID string, p *domain.Paste, ttl time.Duration) error {
	if ttl < 0 {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, pasteKey(encodedID), data, ttl).Err(), "cache paste")
}

// GetPaste returns the cached paste, or nil on a miss.
func (r *Redis) GetPaste(ctx context.Context, encodedID string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, pasteKey(encodedID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cached paste")
	}
	var p domain.Paste
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal cached paste")
	}
	return &p, nil
}

// Delete evicts a paste from the cache when its record goes away.
func (r *Redis) Delete(ctx context.Context, encodedID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Del(ctx, pasteKey(encodedID)).Err(), "delete cached paste")
}

// IncrWindow bumps a fixed-window counter and returns its value. The key
// expires with the window, so idle clients cost nothing.
func (r *Redis) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "incr window")
	}
	return incr.Val(), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
