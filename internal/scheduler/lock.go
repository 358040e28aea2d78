package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock guards one connection against concurrent runs.
type Lock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if it is still owned.
	Release(ctx context.Context) error
}

// Locker hands out the lock for a connection.
type Locker interface {
	Lock(connectionID string) Lock
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker locks connections across processes with SET NX and a TTL.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker returns a locker whose locks expire after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock returns a lock with a fresh owner token.
func (l *RedisLocker) Lock(connectionID string) Lock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &redisLock{
		client: l.client,
		key:    "mailsort:lock:connection:" + connectionID,
		value:  hex.EncodeToString(b),
		ttl:    l.ttl,
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	return nil
}

// LocalLocker locks connections within this process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker returns an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

// Lock returns the lock for connectionID.
func (l *LocalLocker) Lock(connectionID string) Lock {
	return &localLock{parent: l, id: connectionID}
}

type localLock struct {
	parent *LocalLocker
	id     string
	owned  bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.parent.held[l.id] {
		return false, nil
	}
	l.parent.held[l.id] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.owned {
		delete(l.parent.held, l.id)
		l.owned = false
	}
	return nil
}
