package securestore

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/swellwatch/pkg/cryptox"
	"github.com/redis/go-redis/v9"
)

// Redis keeps secrets in redis under a prefix. Values are sealed when a
// sealer is configured; redis itself is not a protected store.
type Redis struct {
	client redis.UniversalClient
	prefix string
	sealer *cryptox.Sealer
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithRedisPrefix namespaces keys, e.g. per user of a hosted shell.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisSealer seals values before they leave the process.
func WithRedisSealer(s *cryptox.Sealer) RedisOption {
	return func(r *Redis) { r.sealer = s }
}

// WithRedisTTL expires stored values. The renewal credential is useless after
// the backend's refresh TTL, so there is no point keeping it longer.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "swellwatch:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", Unavailable("redis get", err)
	}
	return open(r.sealer, key, data)
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	data, err := seal(r.sealer, key, value)
	if err != nil {
		return Unavailable("seal value", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return Unavailable("redis set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return Unavailable("redis del", err)
	}
	return nil
}
