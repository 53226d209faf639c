package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// tokenBucket is a classic refill bucket. It is small enough to keep
// one per client IP without eviction pressure in practice.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity float64, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) retryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / b.refillRate * float64(time.Second))
}

type rateLimiterStore struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	capacity   float64
	refillRate float64
}

func newRateLimiterStore(capacity, refillRate float64) *rateLimiterStore {
	return &rateLimiterStore{
		buckets:    make(map[string]*tokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (s *rateLimiterStore) bucket(key string) *tokenBucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(s.capacity, s.refillRate)
	s.buckets[key] = b
	return b
}

// RateLimit limits requests per client IP. requestsPerMinute is both
// the burst capacity and the sustained rate.
func RateLimit(requestsPerMinute int) echo.MiddlewareFunc {
	store := newRateLimiterStore(float64(requestsPerMinute), float64(requestsPerMinute)/60.0)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			b := store.bucket(c.RealIP())
			if !b.allow() {
				retry := b.retryAfter()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
