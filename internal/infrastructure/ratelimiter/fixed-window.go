package ratelimiter

import (
	"sync"
	"time"
)

// Limiter admits or rejects one event for key. When rejected, the duration
// says how long until the key's window resets.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

type FixedWindowRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	size    time.Duration
	now     func() time.Time

	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

type window struct {
	count   int
	resetAt time.Time
}

// NewFixedWindowRateLimiter allows limit events per key in each window of the
// given size. A non-positive limit disables limiting.
func NewFixedWindowRateLimiter(limit int, size time.Duration) *FixedWindowRateLimiter {
	return newFixedWindow(limit, size, time.Now)
}

func newFixedWindow(limit int, size time.Duration, now func() time.Time) *FixedWindowRateLimiter {
	if size <= 0 {
		size = time.Second
	}
	rl := &FixedWindowRateLimiter{
		windows:     make(map[string]*window),
		limit:       limit,
		size:        size,
		now:         now,
		cleanupTick: time.NewTicker(size),
		done:        make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Truncate(rl.size).Add(rl.size)}
		return true, 0
	}

	if w.count >= rl.limit {
		return false, w.resetAt.Sub(now)
	}
	w.count++
	return true, 0
}

func (rl *FixedWindowRateLimiter) startCleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.cleanup()
		case <-rl.done:
			return
		}
	}
}

func (rl *FixedWindowRateLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *FixedWindowRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
