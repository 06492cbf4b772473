package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return NewRedis(client, cfg), mr
}

func exhaust(t *testing.T, l Limiter, key string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := l.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("Allow() #%d denied, want allowed", i+1)
		}
		if res.Remaining != n-i-1 {
			t.Errorf("Allow() #%d Remaining = %d, want %d", i+1, res.Remaining, n-i-1)
		}
	}
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := NewMemory(Config{Requests: 3, Window: time.Minute, Prefix: "auth"}, clock.Now)

	exhaust(t, l, "10.0.0.1", 3)

	clock.Advance(20 * time.Second)
	res, err := l.Allow(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("4th hit allowed, want denied")
	}
	if res.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", res.RetryAfter)
	}

	// Other keys are independent.
	exhaust(t, l, "10.0.0.2", 3)

	// A new window starts once the first one elapses.
	clock.Advance(41 * time.Second)
	exhaust(t, l, "10.0.0.1", 3)
}

func TestMemoryLimiter_Purge(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewMemory(Config{Requests: 1, Window: time.Minute}, clock.Now)

	l.Allow(context.Background(), "a") //nolint:errcheck // Memory backend never fails
	clock.Advance(30 * time.Second)
	l.Allow(context.Background(), "b") //nolint:errcheck // Memory backend never fails
	clock.Advance(31 * time.Second)

	if removed := l.Purge(); removed != 1 {
		t.Errorf("Purge() = %d, want 1", removed)
	}
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemory(Config{Requests: 50, Window: time.Hour}, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.Allow(context.Background(), "ip") //nolint:errcheck // Memory backend never fails
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Requests: 2, Window: time.Minute, Prefix: "auth"})

	exhaust(t, l, "192.0.2.7", 2)

	if ttl := mr.TTL("rl:auth:192.0.2.7"); ttl != time.Minute {
		t.Errorf("key TTL = %v, want 1m", ttl)
	}

	res, err := l.Allow(context.Background(), "192.0.2.7")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed || res.RetryAfter <= 0 {
		t.Errorf("Allow() = %+v, want denied with RetryAfter", res)
	}

	mr.FastForward(time.Minute)
	exhaust(t, l, "192.0.2.7", 2)
}

func TestRedisLimiter_RepairsMissingTTL(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Requests: 1, Window: time.Minute})

	if err := mr.Set("rl:stuck", "5"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	res, err := l.Allow(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if res.Allowed {
		t.Error("Allow() allowed over-budget key")
	}
	if ttl := mr.TTL("rl:stuck"); ttl != time.Minute {
		t.Errorf("TTL after repair = %v, want 1m", ttl)
	}
}

func TestRedisLimiter_BackendDown(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Requests: 1, Window: time.Minute})
	mr.Close()

	_, err := l.Allow(context.Background(), "ip")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Allow() error = %v, want ErrBackendUnavailable", err)
	}
}
