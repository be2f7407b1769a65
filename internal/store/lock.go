package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a contract lock cannot be acquired before
// the caller's context ends.
var ErrLockTimeout = errors.New("store: timed out waiting for lock")

// Locker serializes trades on one contract. Acquire blocks until the lock
// for key is held or ctx ends, and returns an unlock function that is safe
// to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MemoryLocker is an in-process Locker with one mutex per key. A key's
// entry lives only while some caller holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// unlockLua deletes a lock key only if its value matches the caller's
// token, so one holder never releases another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker is a distributed Locker using SETNX with a TTL and a
// Lua-based conditional unlock. The TTL bounds how long a crashed holder
// can block a contract.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
}

// NewRedisLocker creates a RedisLocker. Locks expire after ttl; contended
// acquires poll every retry.
func NewRedisLocker(rdb *redis.Client, ttl, retry time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		retry:    retry,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	for {
		ok, err := l.rdb.SetNX(ctx, lk, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Background context so unlock succeeds even if the caller's
			// context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

func lockKey(key string) string { return "lock:contract:" + key }
