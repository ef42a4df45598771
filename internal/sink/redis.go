package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
)

// Redis defaults.
const (
	DefaultRedisPrefix = "proxymon:latest:"
	DefaultRedisTTL    = 10 * time.Minute
)

// RedisOptions configures the latest-sample mirror.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSink keeps the most recent sample of every proxy under
// <prefix><proxy id>, expiring after TTL.
type RedisSink struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink for opts.Addr. The connection is lazy.
func NewRedisSink(opts RedisOptions) (*RedisSink, error) {
	if opts.Addr == "" {
		return nil, errors.New(errors.ErrConfig, "Redis sink needs an address",
			"Set redis.addr, or disable the sink")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return newRedisSink(client, opts), nil
}

func newRedisSink(client redisClient, opts RedisOptions) *RedisSink {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	return &RedisSink{client: client, prefix: opts.KeyPrefix, ttl: opts.TTL}
}

// Name implements Sink.
func (r *RedisSink) Name() string { return "redis" }

// Key returns the key holding proxyID's latest sample.
func (r *RedisSink) Key(proxyID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, proxyID)
}

// Write implements Sink. A batch may hold one sample per proxy, so every
// sample overwrites its proxy's key.
func (r *RedisSink) Write(ctx context.Context, samples []collector.Sample) error {
	for _, s := range samples {
		data, err := json.Marshal(s)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Can't encode sample of proxy %d", s.ProxyID), "")
		}
		if err := r.client.Set(ctx, r.Key(s.ProxyID), data, r.ttl).Err(); err != nil {
			return errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Failed to mirror proxy %d to redis", s.ProxyID), "")
		}
	}
	return nil
}

// Close closes the client.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
