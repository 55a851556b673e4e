package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	logger "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Logger"
	tdsmodels "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Models"
	interfaces "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Repository/Interfaces"
)

// LatestCache holds a copy of the most recently inserted reading
type LatestCache interface {
	SetLatest(ctx context.Context, reading tdsmodels.Reading) error
	// GetLatest returns nil, nil on a cache miss
	GetLatest(ctx context.Context) (*tdsmodels.Reading, error)
	Invalidate(ctx context.Context) error
}

const latestReadingKey = "tds:last_reading"

// RedisLatestCache keeps the latest reading as a JSON string under a single key
type RedisLatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLatestCache(client *redis.Client, ttl time.Duration) *RedisLatestCache {
	return &RedisLatestCache{client: client, ttl: ttl}
}

func (c *RedisLatestCache) SetLatest(ctx context.Context, reading tdsmodels.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return c.client.Set(ctx, latestReadingKey, payload, c.ttl).Err()
}

func (c *RedisLatestCache) GetLatest(ctx context.Context) (*tdsmodels.Reading, error) {
	payload, err := c.client.Get(ctx, latestReadingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var reading tdsmodels.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached reading: %w", err)
	}
	return &reading, nil
}

func (c *RedisLatestCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, latestReadingKey).Err()
}

func (c *RedisLatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CachedReadingRepository serves GetLatestReading from a LatestCache in front of another repository.
// The wrapped repository stays the source of truth.
type CachedReadingRepository struct {
	inner  interfaces.ReadingRepository
	cache  LatestCache
	logger *logger.Logger
}

func NewCachedReadingRepository(inner interfaces.ReadingRepository, cache LatestCache, log *logger.Logger) *CachedReadingRepository {
	return &CachedReadingRepository{
		inner:  inner,
		cache:  cache,
		logger: log.WithComponent("latest_cache"),
	}
}

var _ interfaces.ReadingRepository = (*CachedReadingRepository)(nil)

func (r *CachedReadingRepository) InsertReading(ctx context.Context, reading tdsmodels.Reading) error {
	if err := r.inner.InsertReading(ctx, reading); err != nil {
		return err
	}

	if err := r.cache.SetLatest(ctx, reading); err != nil {
		r.logger.Logger.Warn().Err(err).Int64("id", reading.ID).Msg("Failed to update latest reading cache")
		// a stale entry would shadow this insert, so drop it and let reads hit the store
		if err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Logger.Error().Err(err).Msg("Failed to invalidate latest reading cache")
		}
	}
	return nil
}

func (r *CachedReadingRepository) GetLatestReading(ctx context.Context) (*tdsmodels.Reading, error) {
	reading, err := r.cache.GetLatest(ctx)
	if err != nil {
		r.logger.Logger.Warn().Err(err).Msg("Latest reading cache unavailable, reading from store")
	}
	if err == nil && reading != nil {
		// a hit must not hide a store outage
		if err := r.inner.Ping(ctx); err != nil {
			return nil, fmt.Errorf("store unavailable: %w", err)
		}
		return reading, nil
	}
	return r.inner.GetLatestReading(ctx)
}

func (r *CachedReadingRepository) GetRecentReadings(ctx context.Context, limit int) ([]tdsmodels.Reading, error) {
	return r.inner.GetRecentReadings(ctx, limit)
}

func (r *CachedReadingRepository) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}
