/*

This file contains the portfolio locks that serialize mutating operations.

LocalLocker serializes callers inside one process. RedisLocker extends the guarantee to
several rebalancer processes sharing one database, using SET NX with a random token and a
compare-and-delete script on release.

*/

package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("portfolio lock is held by another process")

// Locker hands out exclusive locks keyed by portfolio.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker is an in-process Locker backed by one mutex per key.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisOptions holds the connection parameters of the lock server.
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewRedisClient creates a client and verifies the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Host + ":" + opts.Port,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s:%s: %w", opts.Host, opts.Port, err)
	}
	return client, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker is a Locker shared by every process connected to the same redis.
type RedisLocker struct {
	client    redis.Cmdable
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisLocker builds a locker. The TTL bounds how long a crashed holder blocks others.
func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retryWait: 100 * time.Millisecond}
}

// Key returns the redis key guarding a portfolio.
func (r *RedisLocker) Key(key string) string {
	return r.prefix + ":lock:" + key
}

// TryLock makes one acquisition attempt.
func (r *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := r.Key(key)

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", redisKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, redisKey)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		released, err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Int64()
		if err != nil {
			stateLogger.Error().Err(err).Str("key", redisKey).Msg("Failed to release redis lock")
			return
		}
		if released == 0 {
			stateLogger.Warn().Str("key", redisKey).Msg("Redis lock expired before release")
		}
	}, nil
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		unlock, err := r.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retryWait):
		}
	}
}
