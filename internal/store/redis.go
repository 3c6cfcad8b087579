package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "delivery-heatmap"

var errRedisNotInitialized = errors.New("redis store is not initialized")

type redisCommander interface {
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	ExpireAt(ctx context.Context, key string, tm time.Time) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStoreConfig configures the Redis-backed metric store.
type RedisStoreConfig struct {
	Namespace string
	Retention time.Duration
	MaxSeries int
}

// RedisStore keeps run metrics in Redis so that every replica serves the same gauges. Each series
// is a hash keyed by a hash of its name and labels, tracked in an index set.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
	retention time.Duration
	maxSeries int
}

// NewRedisStore creates a Redis-backed metric store that owns client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	store := &RedisStore{
		closeFn:   func() error { return nil },
		namespace: cfg.Namespace,
		retention: cfg.Retention,
		maxSeries: cfg.MaxSeries,
	}
	if store.namespace == "" {
		store.namespace = defaultNamespace
	}
	if client != nil {
		store.client = client
		store.closeFn = client.Close
	}
	return store
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// UpsertMetric writes a metric point. Points expire after the retention window.
func (s *RedisStore) UpsertMetric(point MetricPoint) error {
	if s == nil || s.client == nil {
		return errRedisNotInitialized
	}
	if err := validatePoint(point); err != nil {
		return err
	}

	ctx := context.Background()
	seriesID := seriesHash(point)
	if err := s.reserveSeries(ctx, seriesID); err != nil {
		return err
	}

	fields, err := encodePoint(point)
	if err != nil {
		return err
	}
	key := s.seriesKey(seriesID)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("write series %s: %w", seriesID, err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), seriesID).Err(); err != nil {
		return fmt.Errorf("index series %s: %w", seriesID, err)
	}
	if s.retention > 0 {
		if err := s.client.ExpireAt(ctx, key, point.UpdatedAt.Add(s.retention)).Err(); err != nil {
			return fmt.Errorf("expire series %s: %w", seriesID, err)
		}
	}
	return nil
}

// reserveSeries enforces the series budget for series not yet in the index.
func (s *RedisStore) reserveSeries(ctx context.Context, seriesID string) error {
	if s.maxSeries <= 0 {
		return nil
	}
	known, err := s.client.SIsMember(ctx, s.indexKey(), seriesID).Result()
	if err != nil {
		return fmt.Errorf("check series index: %w", err)
	}
	if known {
		return nil
	}
	count, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("count series index: %w", err)
	}
	if count >= int64(s.maxSeries) {
		return ErrSeriesBudgetExceeded
	}
	return nil
}

// GC drops index entries whose series hash has expired.
func (s *RedisStore) GC(_ time.Time) {
	if s == nil || s.client == nil {
		return
	}

	ctx := context.Background()
	seriesIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return
	}
	for _, seriesID := range seriesIDs {
		exists, err := s.client.Exists(ctx, s.seriesKey(seriesID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		_ = s.client.SRem(ctx, s.indexKey(), seriesID).Err()
	}
}

// Snapshot returns every readable series ordered by series key. Unreadable series are skipped.
func (s *RedisStore) Snapshot() []MetricPoint {
	if s == nil || s.client == nil {
		return nil
	}

	ctx := context.Background()
	seriesIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil
	}

	points := make([]MetricPoint, 0, len(seriesIDs))
	for _, seriesID := range seriesIDs {
		fields, err := s.client.HGetAll(ctx, s.seriesKey(seriesID)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if point, ok := decodePoint(fields); ok {
			points = append(points, point)
		}
	}
	sortPoints(points)
	return points
}

// Healthy pings Redis.
func (s *RedisStore) Healthy(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errRedisNotInitialized
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func encodePoint(point MetricPoint) (map[string]any, error) {
	labels, err := json.Marshal(point.Labels)
	if err != nil {
		return nil, fmt.Errorf("marshal labels of %s: %w", point.Name, err)
	}
	return map[string]any{
		"name":       point.Name,
		"labels":     string(labels),
		"value":      strconv.FormatFloat(point.Value, 'f', -1, 64),
		"updated_at": strconv.FormatInt(point.UpdatedAt.UnixNano(), 10),
	}, nil
}

func decodePoint(fields map[string]string) (MetricPoint, bool) {
	name := fields["name"]
	if name == "" {
		return MetricPoint{}, false
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(fields["labels"]), &labels); err != nil {
		return MetricPoint{}, false
	}
	value, err := strconv.ParseFloat(fields["value"], 64)
	if err != nil {
		return MetricPoint{}, false
	}
	updatedAt, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return MetricPoint{}, false
	}
	return MetricPoint{
		Name:      name,
		Labels:    labels,
		Value:     value,
		UpdatedAt: time.Unix(0, updatedAt),
	}, true
}

func (s *RedisStore) indexKey() string {
	return s.namespace + ":series:index"
}

func (s *RedisStore) seriesKey(seriesID string) string {
	return s.namespace + ":series:" + seriesID
}

func seriesHash(point MetricPoint) string {
	sum := sha1.Sum([]byte(point.SeriesKey()))
	return hex.EncodeToString(sum[:])
}
