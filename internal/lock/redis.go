package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only if it still holds the caller's token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisConfig holds connection parameters for the Redis locker
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Retry    time.Duration
}

// Redis is a distributed lock using SET NX with a TTL and a Lua-guarded unlock
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
}

// NewRedis connects to Redis and verifies connectivity
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		retry:    retry,
	}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func lockKey(key string) string {
	return "settlement:lock:" + key
}

// TryAcquire makes a single attempt and returns ErrLockHeld if another
// holder owns key.
func (r *Redis) TryAcquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := r.rdb.SetNX(ctx, lk, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() { r.release(lk, token) })
	}
	return unlock, nil
}

func (r *Redis) release(lk, token string) {
	// background context so unlock runs even if the caller's ctx is done
	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Err()
}

// Acquire retries TryAcquire until it succeeds or ctx is done
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		unlock, err := r.TryAcquire(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if err != ErrLockHeld {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Locker = (*Redis)(nil)
