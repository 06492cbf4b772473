package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps counters in process. Suitable for a single instance;
// counters are lost on restart.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemory creates an in-process limiter. A nil clock uses time.Now.
func NewMemory(cfg Config, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		cfg:     cfg,
		now:     now,
		windows: make(map[string]*window),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	k := l.cfg.key(key)

	l.mu.Lock()
	w, ok := l.windows[k]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.windows[k] = w
	}
	w.count++
	count := w.count
	ttl := w.start.Add(l.cfg.Window).Sub(now)
	l.mu.Unlock()

	return l.cfg.result(count, ttl), nil
}

// Purge drops windows that have elapsed and returns how many were removed.
func (l *MemoryLimiter) Purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

// Run purges expired windows every interval until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Purge()
		}
	}
}
