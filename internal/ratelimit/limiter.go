// Package ratelimit implements fixed-window rate limiting keyed by an
// arbitrary subject string (user id, provider name). Windows are created
// lazily on the first event for a key and reset once the window elapses,
// whether or not the limit was hit.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter grants or denies one event for a subject key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config tunes a limiter instance.
type Config struct {
	MaxPerWindow int
	Window       time.Duration
}

// DefaultConfig allows 100 events per subject per minute.
func DefaultConfig() Config {
	return Config{MaxPerWindow: 100, Window: time.Minute}
}

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps per-key windows in process memory. Correct for a
// single-instance deployment and for tests; scaled deployments use
// RedisLimiter so all replicas share the same counters.
type MemoryLimiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow increments the key's window counter and reports whether the event is
// within the limit. The counter never advances past MaxPerWindow.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		l.windows[key] = &window{count: 1, start: now}
		return true, nil
	}
	if w.count >= l.cfg.MaxPerWindow {
		return false, nil
	}
	w.count++
	return true, nil
}
