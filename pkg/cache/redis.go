package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/assignment-review-api/pkg/config"
)

// ClientName identifies this service in CLIENT LIST on the Redis side.
const ClientName = "assignment-review-api"

const (
	defaultPoolSize = 10
	dialTimeout     = 5 * time.Second
	ioTimeout       = 3 * time.Second
)

// Options maps the Redis configuration onto client options. Each WATCH
// transaction holds a pooled connection until EXEC; the pool keeps a floor.
func Options(cfg config.RedisConfig) *redis.Options {
	poolSize := cfg.PoolSize
	if poolSize < defaultPoolSize {
		poolSize = defaultPoolSize
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ClientName:   ClientName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	}
}

// NewRedis returns a connected Redis client or an error naming the address
// that failed the initial ping.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := Options(cfg)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return client, nil
}
