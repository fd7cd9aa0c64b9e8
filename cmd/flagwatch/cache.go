package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/flagbind"
	"github.com/matt-riley/flagbind/evalclient"
	"github.com/matt-riley/flagbind/flagcache"
	"github.com/matt-riley/flagbind/internal/config"
	"github.com/matt-riley/flagbind/internal/metrics"
)

const redisPingRetries = 5

// openCache connects the configured persistent cache. The returned store is
// nil when caching is disabled; the close func is always safe to call.
func openCache(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (evalclient.Store, func(), error) {
	switch cfg.Cache {
	case config.CachePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := flagcache.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("migrations applied")
		metrics.RegisterPoolMetrics(m.Registry, pool)
		return &instrumentedStore{Store: flagcache.NewPostgres(pool), m: m}, pool.Close, nil

	case config.CacheRedis:
		client, err := flagcache.NewRedisClient(ctx, flagcache.RedisConfig{
			URL:            cfg.RedisURL,
			PingMaxRetries: redisPingRetries,
			Logger:         log,
		})
		if err != nil {
			return nil, nil, err
		}
		store := flagcache.NewRedis(client, flagcache.WithTTL(cfg.RedisTTL))
		return &instrumentedStore{Store: store, m: m}, func() { _ = client.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}

// instrumentedStore counts cache writes.
type instrumentedStore struct {
	evalclient.Store
	m *metrics.Metrics
}

func (s *instrumentedStore) Save(ctx context.Context, clientID, contextKey string, flags flagbind.FlagSet) error {
	err := s.Store.Save(ctx, clientID, contextKey, flags)
	s.m.RecordCacheWrite(err)
	return err
}
