// Package senderlock serializes work per message sender so that two texts
// from the same phone number never run the conversation logic concurrently.
package senderlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sms:sender:v1:"

// Locker acquires an exclusive lease for a key. The returned release func is
// safe to call once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// releaseScript deletes the lease only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds leases in Redis so that several API replicas agree on
// ownership. Leases expire after ttl in case a holder crashes.
type RedisLocker struct {
	cache *redis.Client
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLocker builds a Redis-backed sender lock.
func NewRedisLocker(cache *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{cache: cache, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire blocks until the lease for key is obtained or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	cacheKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.cache.SetNX(ctx, cacheKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire sender lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire sender lock: %w", ctx.Err())
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(releaseCtx, l.cache, []string{cacheKey}, token) // best effort
		})
	}, nil
}

// LocalLocker serializes keys within a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker builds an in-process sender lock.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("acquire sender lock: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
