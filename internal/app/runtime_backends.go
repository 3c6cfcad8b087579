package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cam3ron2/delivery-heatmap/internal/config"
	"github.com/cam3ron2/delivery-heatmap/internal/store"
)

const (
	defaultRetention = 7 * 24 * time.Hour
	defaultMaxSeries = 100_000
	redisNamespace   = "delivery-heatmap"
	redisPingTimeout = 5 * time.Second
)

// newRuntimeStore builds the configured metric store. It reports true when Redis was requested
// but could not be reached and the in-memory store is used instead.
func newRuntimeStore(cfg *config.Config, logger *zap.Logger) (runtimeStore, bool) {
	retention := cfg.Store.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	maxSeries := cfg.Store.MaxSeriesBudget
	if maxSeries <= 0 {
		maxSeries = defaultMaxSeries
	}

	memoryStore := store.NewMemoryStore(retention, maxSeries)
	if !strings.EqualFold(strings.TrimSpace(cfg.Store.Backend), "redis") {
		return memoryStore, false
	}

	redisStore, err := newRedisStoreFromConfig(cfg, retention, maxSeries)
	if err != nil {
		logger.Warn("failed to initialize redis store; falling back to in-memory store", zap.Error(err))
		return memoryStore, true
	}
	return redisStore, false
}

func newRedisStoreFromConfig(cfg *config.Config, retention time.Duration, maxSeries int) (*store.RedisStore, error) {
	var redisClient redis.UniversalClient
	if strings.EqualFold(cfg.Store.RedisMode, "sentinel") {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Store.RedisMasterSet,
			SentinelAddrs: cfg.Store.RedisSentinelAddrs,
			Password:      cfg.Store.RedisPassword,
			DB:            cfg.Store.RedisDB,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Store.RedisAddr, err)
	}

	return store.NewRedisStore(redisClient, store.RedisStoreConfig{
		Namespace: redisNamespace,
		Retention: retention,
		MaxSeries: maxSeries,
	}), nil
}
