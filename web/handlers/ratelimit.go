package handlers

import (
	"net"
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter keyed by client IP. Windows
// reset wholesale when they expire, which is coarse but cheap and good
// enough to keep a single client from hammering the API.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	counts map[string]int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		start:  time.Now(),
		counts: make(map[string]int),
	}
}

func (rl *rateLimiter) allow(remoteAddr string) bool {
	if rl.limit <= 0 {
		return true
	}

	key := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		key = host
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.start) >= rl.window {
		rl.start = now
		rl.counts = make(map[string]int)
	}

	rl.counts[key]++
	return rl.counts[key] <= rl.limit
}
