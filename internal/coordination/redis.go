package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/retry"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// lockPrefix namespaces object lock keys.
const lockPrefix = "alto-editor:object-lock:"

// NewClient creates a Redis client and verifies the connection with retries.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewLocker returns a RedisLocker when Redis is configured and a KeyedMutex
// otherwise. The returned close func releases the Redis client, if any.
func NewLocker(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (Locker, func() error, error) {
	if cfg.Address == "" {
		log.Info("Redis not configured, using in-process object locks")
		return NewKeyedMutex(), func() error { return nil }, nil
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	lockCfg := DefaultLockConfig()
	lockCfg.TTL = cfg.LockTTL
	log.Info("Using Redis object locks",
		logger.String("address", cfg.Address),
		logger.Duration("ttl", cfg.LockTTL))
	return NewRedisLocker(client, lockPrefix, lockCfg, log), client.Close, nil
}
