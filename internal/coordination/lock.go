// Package coordination serializes mutations of one digital object across
// goroutines and processes.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL is the default lock time-to-live.
	DefaultLockTTL = 30 * time.Second

	// DefaultRetryDelay is the default delay between lock acquisition retries.
	DefaultRetryDelay = 50 * time.Millisecond

	// DefaultMaxRetries bounds acquisition to roughly one TTL of waiting.
	DefaultMaxRetries = 600
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockNotHeld is returned when trying to release a lock that is not held.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	unlockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// LockConfig holds configuration for a distributed lock.
type LockConfig struct {
	TTL        time.Duration // Lock TTL (default: 30s)
	RetryDelay time.Duration // Delay between retries (default: 50ms)
	MaxRetries int           // Maximum retries (default: 600)
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:        DefaultLockTTL,
		RetryDelay: DefaultRetryDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

func (c *LockConfig) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultLockTTL
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// DistributedLock is a single-holder Redis lock identified by a random token.
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// NewDistributedLock creates a new distributed lock.
func NewDistributedLock(client redis.UniversalClient, key string, cfg LockConfig) *DistributedLock {
	cfg.setDefaults()
	return &DistributedLock{
		client:     client,
		key:        key,
		token:      uuid.New().String(),
		ttl:        cfg.TTL,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
	}
}

// Lock acquires the lock, blocking until acquired, retries run out or ctx ends.
func (l *DistributedLock) Lock(ctx context.Context) error {
	for i := range l.maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if i < l.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay):
			}
		}
	}

	return ErrLockNotAcquired
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock if it is still held by this instance.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the lock TTL if it is still held.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
