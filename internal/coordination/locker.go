package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// Locker runs fn while holding the lock for key. Calls for the same key never
// overlap; calls for different keys run independently.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RedisLocker serializes keys across processes sharing a Redis server.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	cfg    LockConfig
	log    logger.Logger
}

// NewRedisLocker creates a locker whose Redis keys are prefix+key.
func NewRedisLocker(client redis.UniversalClient, prefix string, cfg LockConfig, log logger.Logger) *RedisLocker {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLocker{client: client, prefix: prefix, cfg: cfg, log: log}
}

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := NewDistributedLock(r.client, r.prefix+key, r.cfg)
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	stop := r.keepAlive(ctx, lock, key)
	fnErr := fn(ctx)
	stop()

	// release even when ctx is already cancelled
	unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TTL)
	defer cancel()
	if err := lock.Unlock(unlockCtx); err != nil {
		if errors.Is(err, ErrLockNotHeld) {
			r.log.Warn("Object lock expired before release",
				logger.String("key", key),
				logger.Duration("ttl", r.cfg.TTL))
		} else {
			r.log.Error("Failed to release object lock", logger.String("key", key), logger.Error(err))
		}
	}
	return fnErr
}

// keepAlive renews the lock every third of its TTL until stop is called, so
// fn may outlive a single TTL.
func (r *RedisLocker) keepAlive(ctx context.Context, lock *DistributedLock, key string) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.TTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := lock.Extend(ctx, r.cfg.TTL)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrLockNotHeld):
				r.log.Warn("Object lock lost while held", logger.String("key", key))
				return
			default:
				r.log.Warn("Failed to extend object lock", logger.String("key", key), logger.Error(err))
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// KeyedMutex serializes keys within one process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := k.acquire(key)
	defer k.release(key, e)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}
