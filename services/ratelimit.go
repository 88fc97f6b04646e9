package services

import (
	"sync"
	"time"
)

// RateLimitDecision is returned for every request so the HTTP layer
// can emit X-RateLimit-* headers.
type RateLimitDecision struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	ResetMs   int64 `json:"reset_ms"`
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a fixed-window per-IP request counter, coarser than
// the WAF velocity check and independent of it.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*rateBucket

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rateBucket),

		stopChan: make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(5 * time.Minute)
	go rl.cleanupRoutine()

	return rl
}

// Allow counts the request against the IP's current window.
func (rl *RateLimiter) Allow(ip string) RateLimitDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[ip]
	if !exists || now.Sub(b.windowStart) >= rl.window {
		b = &rateBucket{count: 0, windowStart: now}
		rl.buckets[ip] = b
	}

	resetMs := (rl.window - now.Sub(b.windowStart)).Milliseconds()
	if b.count >= rl.limit {
		return RateLimitDecision{Allowed: false, Remaining: 0, ResetMs: resetMs}
	}

	b.count++
	return RateLimitDecision{
		Allowed:   true,
		Remaining: rl.limit - b.count,
		ResetMs:   resetMs,
	}
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopChan:
			return
		case <-rl.cleanupTicker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, b := range rl.buckets {
		if now.Sub(b.windowStart) >= rl.window {
			delete(rl.buckets, ip)
		}
	}
}

// Stop stops the background cleanup
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
	rl.cleanupTicker.Stop()
}
