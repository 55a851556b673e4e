package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	config "gitlab.com/maplesense1/tds.mqtt_bridge/src/production/TDS.Config"
)

// ConnectRedisWithTimeout creates a Redis client and verifies it answers PING
func ConnectRedisWithTimeout(cfg *config.CacheConfig, timeout time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("unable to ping Redis: %w", err)
	}

	return rdb, nil
}
