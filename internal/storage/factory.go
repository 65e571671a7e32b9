package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
	DriverSupabase Driver = "supabase"
)

type Config struct {
	Driver           Driver
	MaxConversations int
	Database         DatabaseConfig
	RedisURL         string
	RedisTTL         time.Duration
	Supabase         SupabaseConfig
}

// New opens the storage backend selected by cfg.Driver.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Storage, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStorage(logger, WithMaxConversations(cfg.MaxConversations)), nil

	case DriverPostgres:
		return NewPostgresStorage(ctx, cfg.Database, logger)

	case DriverRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		return NewRedisStorage(client, cfg.RedisTTL, logger), nil

	case DriverSupabase:
		return NewSupabaseStorage(cfg.Supabase, logger)

	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
