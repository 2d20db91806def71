package senderlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	cache, mr := newRedis(t)
	l := NewRedisLocker(cache, time.Minute)

	release, err := l.Acquire(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists(keyPrefix + "+15550001111") {
		t.Fatalf("expected lease key in redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "+15550001111"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to time out, got %v", err)
	}

	release()
	if mr.Exists(keyPrefix + "+15550001111") {
		t.Fatalf("expected lease key removed on release")
	}
	release2, err := l.Acquire(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	release2()
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	cache, mr := newRedis(t)
	l := NewRedisLocker(cache, time.Minute)

	release, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Lease expired and was taken by another holder.
	if err := mr.Set(keyPrefix+"k", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	got, err := mr.Get(keyPrefix + "k")
	if err != nil || got != "someone-else" {
		t.Fatalf("release must not delete a lease it no longer holds, got %q err=%v", got, err)
	}
}

func TestLocalLockerSerializesSameKey(t *testing.T) {
	l := NewLocalLocker()

	var (
		wg       sync.WaitGroup
		inFlight int32
		maxSeen  int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "same")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder at a time, saw %d", maxSeen)
	}
	if len(l.slots) != 0 {
		t.Fatalf("expected slots to be cleaned up, got %d", len(l.slots))
	}
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	releaseA, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("different key must not block: %v", err)
	}
	releaseB()
}
