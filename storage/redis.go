package storage

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every key stored in Redis.
const DefaultRedisPrefix = "jstp:"

// Redis stores values as Redis strings.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisPrefix sets the key prefix. Default: "jstp:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisTTL expires saved values after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis wraps an existing client. Close does not close it.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and checks the connection. Close closes the
// client.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*Redis, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrapf(err, "ping redis %s", addr)
	}
	r := NewRedis(client, opts...)
	r.owned = true
	return r, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
	return pkgerrors.Wrap(err, "redis set")
}

func (r *Redis) Get(ctx context.Context, key string, def []byte) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "redis get")
	}
	return v, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return pkgerrors.Wrap(r.client.Del(ctx, r.prefix+key).Err(), "redis del")
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
