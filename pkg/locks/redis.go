package locks

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/clover/pkg/redis"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired before the timeout
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = goredis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig tunes RedisLocker.
type RedisConfig struct {
	KeyPrefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// Timeout bounds how long Acquire waits for each key.
	Timeout time.Duration
}

// RedisLocker is a distributed Locker built on SET NX with a TTL and a compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
	logger ectologger.Logger
}

func NewRedisLocker(client *redis.Client, cfg RedisConfig, logger ectologger.Logger) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "clover:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

type heldLock struct {
	key   string
	value string
}

// Acquire takes every key in sorted order, each with exponential backoff. On failure the keys
// already held are released.
func (l *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	ordered := normalizeKeys(keys)
	token := uuid.New().String()

	held := make([]heldLock, 0, len(ordered))
	for _, key := range ordered {
		lock, err := l.tryAcquire(ctx, l.cfg.KeyPrefix+key, token)
		if err != nil {
			l.releaseAll(context.WithoutCancel(ctx), held)
			return nil, err
		}
		held = append(held, lock)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		l.releaseAll(context.WithoutCancel(ctx), held)
	}, nil
}

func (l *RedisLocker) tryAcquire(ctx context.Context, key, value string) (heldLock, error) {
	deadline := time.Now().Add(l.cfg.Timeout)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.client.Redis().SetNX(ctx, key, value, l.cfg.TTL).Result()
		if err != nil {
			return heldLock{}, err
		}
		if ok {
			l.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
			return heldLock{key: key, value: value}, nil
		}
		if !time.Now().Before(deadline) {
			return heldLock{}, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return heldLock{}, ctx.Err()
		case <-time.After(backoff):
			// Exponential backoff with cap
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

func (l *RedisLocker) releaseAll(ctx context.Context, held []heldLock) {
	for i := len(held) - 1; i >= 0; i-- {
		if err := l.release(ctx, held[i]); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", held[i].key)
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, lock heldLock) error {
	result, err := releaseScript.Run(ctx, l.client.Redis(), []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	l.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}
