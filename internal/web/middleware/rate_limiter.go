package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freekieb7/usermanager/internal/cache"
)

// RateLimiter defines the interface for rate limiting implementations
type RateLimiter interface {
	// Allow checks if a request is allowed for the given key
	// Returns true if allowed, false if rate limit exceeded
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// GetRemaining returns the number of remaining requests for the key
	GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)

	// Reset clears the rate limit data for the given key
	Reset(ctx context.Context, key string) error
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	refillAt time.Time
	window   time.Duration
}

// NewTokenBucket creates a new token bucket
func NewTokenBucket(capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		refillAt: time.Now(),
		window:   window,
	}
}

// refillLocked adds the tokens earned since the last refill.
func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.refillAt)
	if elapsed >= tb.window {
		tb.tokens = tb.capacity
		tb.refillAt = now
		return
	}

	earned := int(elapsed.Nanoseconds() * int64(tb.capacity) / tb.window.Nanoseconds())
	if earned > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+earned)
		tb.refillAt = now
	}
}

// Take attempts to take a token from the bucket
func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (tb *TokenBucket) Tokens() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	return tb.tokens
}

func (tb *TokenBucket) idleFor(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.refillAt)
}

// InMemoryRateLimiter implements RateLimiter using in-memory token buckets
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	stop    chan struct{}
	once    sync.Once
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		buckets: make(map[string]*TokenBucket),
		stop:    make(chan struct{}),
	}

	go rl.janitor(5 * time.Minute)

	return rl
}

func bucketKey(key string, limit int, window time.Duration) string {
	return fmt.Sprintf("%s:%d:%s", key, limit, window)
}

// Allow checks if a request is allowed for the given key
func (rl *InMemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := bucketKey(key, limit, window)

	rl.mu.Lock()
	bucket, exists := rl.buckets[k]
	if !exists {
		bucket = NewTokenBucket(limit, window)
		rl.buckets[k] = bucket
	}
	rl.mu.Unlock()

	return bucket.Take(), nil
}

// GetRemaining returns the number of remaining requests for the key
func (rl *InMemoryRateLimiter) GetRemaining(_ context.Context, key string, limit int, window time.Duration) (int, error) {
	rl.mu.Lock()
	bucket, exists := rl.buckets[bucketKey(key, limit, window)]
	rl.mu.Unlock()

	if !exists {
		return limit, nil
	}
	return bucket.Tokens(), nil
}

// Reset clears the rate limit data for the given key
func (rl *InMemoryRateLimiter) Reset(_ context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k := range rl.buckets {
		if strings.HasPrefix(k, key+":") {
			delete(rl.buckets, k)
		}
	}
	return nil
}

// Close stops the cleanup goroutine
func (rl *InMemoryRateLimiter) Close() error {
	rl.once.Do(func() { close(rl.stop) })
	return nil
}

func (rl *InMemoryRateLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup removes buckets unused for two windows
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for k, bucket := range rl.buckets {
		if bucket.idleFor(now) > bucket.window*2 {
			delete(rl.buckets, k)
		}
	}
}

// CacheRateLimiter is a fixed window limiter over the cache service. Backed by Redis
// the counters are shared by every instance of the front-end.
type CacheRateLimiter struct {
	cache *cache.Service

	// window of the latest Allow call, used by Reset
	lastWindow atomic.Int64
}

func NewCacheRateLimiter(c *cache.Service) *CacheRateLimiter {
	return &CacheRateLimiter{cache: c}
}

func (rl *CacheRateLimiter) windowKey(key string, window time.Duration, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, now.UnixNano()/int64(window))
}

// Allow checks if a request is allowed for the given key
func (rl *CacheRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.lastWindow.Store(int64(window))

	count, err := rl.cache.Increment(ctx, rl.windowKey(key, window, time.Now()), window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

// GetRemaining returns the number of remaining requests for the key
func (rl *CacheRateLimiter) GetRemaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	var count int
	if err := rl.cache.Get(ctx, rl.windowKey(key, window, time.Now()), &count); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return limit, nil
		}
		return 0, err
	}
	return max(0, limit-count), nil
}

// Reset clears the counter of the current window
func (rl *CacheRateLimiter) Reset(ctx context.Context, key string) error {
	window := time.Duration(rl.lastWindow.Load())
	if window <= 0 {
		return nil
	}
	return rl.cache.Delete(ctx, rl.windowKey(key, window, time.Now()))
}
