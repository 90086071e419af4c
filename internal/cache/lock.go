package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockFailed is returned when a lock could not be acquired in time
var ErrLockFailed = errors.New("failed to acquire lock")

// releaseScript deletes the key only if this holder still owns it, so a
// holder whose lock expired cannot release the next holder's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker hands out SET NX EX locks shared across instances
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

// NewRedisLocker creates a locker on the cache's client
func NewRedisLocker(c *Cache, expiration time.Duration) *RedisLocker {
	return &RedisLocker{
		client:        c.Client(),
		expiration:    expiration,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    40,
	}
}

// Acquire blocks until key is locked, ctx ends, or retries run out
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := keyNamespace + ":lock:" + key
	token := uuid.NewString()

	for i := 0; i < l.maxRetries; i++ {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.expiration).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// the lock expires on its own if this fails
				_ = releaseScript.Run(context.Background(), l.client, []string{fullKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
	return nil, ErrLockFailed
}

// LocalLocker serialises holders of the same key inside one process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Acquire blocks until key is free or ctx ends
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		return func() {
			<-lk.ch
			l.drop(key, lk)
		}, nil
	case <-ctx.Done():
		l.drop(key, lk)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) drop(key string, lk *localLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
