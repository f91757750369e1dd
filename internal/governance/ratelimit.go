package governance

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines per-route admission limits.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimiter implements token bucket rate limiting per route. Routes without a
// configured limit are always admitted.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(config map[string]RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*tokenBucket)}
	rl.Configure(config)
	return rl
}

// Configure replaces the per-route limits, keeping the token balance of routes
// that survive the change.
func (rl *RateLimiter) Configure(config map[string]RateLimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	next := make(map[string]*tokenBucket, len(config))
	for routeID, cfg := range config {
		if cfg.RequestsPerSecond <= 0 {
			continue
		}
		if bucket, ok := rl.buckets[routeID]; ok {
			bucket.configure(cfg.RequestsPerSecond, cfg.BurstSize)
			next[routeID] = bucket
			continue
		}
		next[routeID] = newTokenBucket(cfg.RequestsPerSecond, cfg.BurstSize)
	}
	rl.buckets = next
}

// Allow reports whether a request for the route is admitted.
func (rl *RateLimiter) Allow(routeID string) bool {
	rl.mu.RLock()
	bucket, ok := rl.buckets[routeID]
	rl.mu.RUnlock()
	if !ok {
		return true
	}
	return bucket.take()
}

// AllowContext is Allow with context cancellation support.
func (rl *RateLimiter) AllowContext(ctx context.Context, routeID string) bool {
	if ctx.Err() != nil {
		return false
	}
	return rl.Allow(routeID)
}

// Remaining returns the whole tokens left for the route, or -1 when unlimited.
func (rl *RateLimiter) Remaining(routeID string) int {
	rl.mu.RLock()
	bucket, ok := rl.buckets[routeID]
	rl.mu.RUnlock()
	if !ok {
		return -1
	}
	return bucket.available()
}

type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(rps float64, burst int) *tokenBucket {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &tokenBucket{
		rate:       rps,
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) configure(rps float64, burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	tb.rate = rps
	tb.capacity = float64(burst)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, remaining int, retryAfter time.Duration) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
	}
}
