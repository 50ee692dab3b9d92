package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// DefaultCleanupInterval is how often idle limiters are dropped.
const DefaultCleanupInterval = 5 * time.Minute

type keyLimiter struct {
	limiter    *rate.Limiter
	limit      int
	window     time.Duration
	lastAccess time.Time
}

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// A bucket refills limit tokens per window and bursts up to limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	interval time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter starts a limiter whose idle entries are cleaned up every
// cleanupInterval. A non-positive interval uses DefaultCleanupInterval.
func NewRateLimiter(cleanupInterval time.Duration) *RateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		interval: cleanupInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow consumes one token for key. Non-positive limit or window disables
// throttling.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	now := rl.now()

	rl.mu.Lock()
	kl, ok := rl.limiters[key]
	if !ok || kl.limit != limit || kl.window != window {
		every := rate.Every(window / time.Duration(limit))
		kl = &keyLimiter{
			limiter: rate.NewLimiter(every, limit),
			limit:   limit,
			window:  window,
		}
		rl.limiters[key] = kl
	}
	kl.lastAccess = now
	rl.mu.Unlock()

	return kl.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than twice the cleanup interval.
func (rl *RateLimiter) cleanup() {
	ttl := rl.interval * 2
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, kl := range rl.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
