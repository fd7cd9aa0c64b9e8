package flagcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matt-riley/flagbind"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "flagcache:"
	defaultRedisTTL    = 7 * 24 * time.Hour
)

// Redis stores each flag set as a JSON string under prefix+hash+":"+context.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption customises a [Redis] store.
type RedisOption func(*Redis)

// WithPrefix overrides the "flagcache:" key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL sets how long a saved flag set lives. Zero keeps keys forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis creates a [Redis] store on top of client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    defaultRedisTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(clientID, contextKey string) string {
	return r.prefix + hashClientID(clientID) + ":" + contextKey
}

// Load returns the flags saved for clientID and contextKey, or
// [ErrNotFound].
func (r *Redis) Load(ctx context.Context, clientID, contextKey string) (flagbind.FlagSet, error) {
	raw, err := r.client.Get(ctx, r.key(clientID, contextKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("flagcache: redis get: %w", err)
	}

	return decodeFlags(raw)
}

// Save writes flags for clientID and contextKey and refreshes the TTL.
func (r *Redis) Save(ctx context.Context, clientID, contextKey string, flags flagbind.FlagSet) error {
	raw, err := encodeFlags(flags)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.key(clientID, contextKey), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("flagcache: redis set: %w", err)
	}

	return nil
}

// RedisConfig configures [NewRedisClient].
type RedisConfig struct {
	URL            string
	PingMaxRetries int
	PingBackoff    time.Duration
	Logger         *slog.Logger
}

// NewRedisClient parses cfg.URL and pings the server, retrying with a
// doubling backoff until it answers or the retries run out.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("flagcache: parse redis url: %w", err)
	}

	maxRetries := cfg.PingMaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	backoff := cfg.PingBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(opts)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingErr := client.Ping(ctx).Err()
		if pingErr == nil {
			logger.Debug("redis ping successful", "attempt", attempt)
			return client, nil
		}

		logger.Warn("redis ping failed", "attempt", attempt, "max_retries", maxRetries, "error", pingErr)
		lastErr = pingErr
		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("flagcache: redis ping: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	_ = client.Close()
	return nil, fmt.Errorf("flagcache: redis not reachable after %d attempts: %w", maxRetries, lastErr)
}
