package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable wraps failures talking to the counter store.
var ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")

// Config sets the fixed-window budget.
type Config struct {
	// Requests is the number of hits allowed per window.
	Requests int
	// Window is the length of each fixed window.
	Window time.Duration
	// Prefix namespaces keys, e.g. "auth".
	Prefix string
}

// Result describes one Allow decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key in fixed windows. The window starts at the
// first hit for a key and the counter resets when it elapses.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func (c Config) key(k string) string {
	if c.Prefix == "" {
		return "rl:" + k
	}
	return "rl:" + c.Prefix + ":" + k
}

func (c Config) result(count int64, ttl time.Duration) Result {
	remaining := int64(c.Requests) - count
	if remaining < 0 {
		remaining = 0
	}
	r := Result{
		Allowed:   count <= int64(c.Requests),
		Limit:     c.Requests,
		Remaining: int(remaining),
	}
	if !r.Allowed {
		r.RetryAfter = ttl
		if r.RetryAfter <= 0 {
			r.RetryAfter = c.Window
		}
	}
	return r
}
