package bucket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a bucket stays locked longer than the wait budget.
var ErrLockTimeout = errors.New("bucket: timed out waiting for lock")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker shared by every process pointing at the same Redis.
type RedisLocker struct {
	client    *redis.Client
	ttl       time.Duration
	wait      time.Duration
	retry     time.Duration
	keyPrefix string
	logger    *zap.Logger
}

// RedisLockerConfig tunes lock lifetime and waiting.
type RedisLockerConfig struct {
	TTL       time.Duration
	Wait      time.Duration
	Retry     time.Duration
	KeyPrefix string
}

// NewRedisLocker builds a Redis-backed locker.
func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig, logger *zap.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "queue:lock:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:    client,
		ttl:       cfg.TTL,
		wait:      cfg.Wait,
		retry:     cfg.Retry,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}
}

// Acquire takes every key in sorted order, releasing the ones already held on failure.
func (r *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.lock(ctx, r.keyPrefix+key, token, deadline); err != nil {
			r.unlock(held, token)
			return nil, err
		}
		held = append(held, r.keyPrefix+key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { r.unlock(held, token) })
	}, nil
}

func (r *RedisLocker) lock(ctx context.Context, key, token string, deadline time.Time) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) unlock(keys []string, token string) {
	// Release must succeed even if the caller's context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil {
			r.logger.Warn("release bucket lock", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}
