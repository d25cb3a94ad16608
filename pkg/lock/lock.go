// Package lock provides short-lived distributed mutexes backed by redsync.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding the named lock.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type RedisLocker struct {
	rs    *redsync.Redsync
	tries int
}

func NewRedisLocker(client *redis.Client, tries int) *RedisLocker {
	if tries <= 0 {
		tries = 1
	}
	return &RedisLocker{
		rs:    redsync.New(goredis.NewPool(client)),
		tries: tries,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(
		"lock:"+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(l.tries),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return acquireError(name, err)
	}
	defer mutex.UnlockContext(context.WithoutCancel(ctx))

	return fn(ctx)
}

// acquireError separates contention, which callers treat as ErrNotAcquired,
// from Redis being unreachable.
func acquireError(name string, err error) error {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, name, err)
	}
	return fmt.Errorf("failed to acquire lock %s: %w", name, err)
}

// LocalLocker is an in-process Locker for single-node runs and tests.
// Contended locks fail immediately, matching a single redsync try.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, ok := l.held[name]; ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotAcquired, name)
	}
	l.held[name] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
