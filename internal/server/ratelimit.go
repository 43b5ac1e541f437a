package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds overall request throughput and, separately, how
// often one client IP may mint identities. The mint limit exists because
// every anonymous bootstrap writes a key to the KV store; without it a
// single client could grow the store without bound.
type RateLimitConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	MintLimit     int
	MintWindow    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

type rateLimiter struct {
	global      *tokenBucket
	mintLimit   int
	mintWindow  time.Duration
	mintMu      sync.Mutex
	mintBuckets map[string]*ipLimiter
	store       tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		mintLimit:   cfg.MintLimit,
		mintWindow:  cfg.MintWindow,
		mintBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.mintLimit <= 0 {
		rl.mintLimit = 0
	}
	if rl.mintWindow <= 0 {
		rl.mintWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.mintLimit > 0 {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowMint rate-limits identity-minting endpoints per client IP. When a
// Redis store is configured the counters are shared across replicas.
func (r *rateLimiter) AllowMint(key string) (bool, time.Duration, error) {
	if r == nil || r.mintLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		allowed, retryAfter, err := r.store.Allow(fmt.Sprintf("reelgate:mint:%s", key), r.mintLimit, r.mintWindow)
		return allowed, retryAfter, err
	}
	if key == "" {
		key = "unknown"
	}
	r.mintMu.Lock()
	bucket, exists := r.mintBuckets[key]
	if !exists {
		rate := float64(r.mintLimit) / r.mintWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.mintWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.mintLimit)}
		r.mintBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.mintMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.mintBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.mintWindow)
	for key, bucket := range r.mintBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.mintBuckets, key)
		}
	}
}

// mintEndpoint reports whether the request mints a fresh identity: anonymous
// bootstrap and logout both generate and persist a new base key.
func mintEndpoint(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	switch strings.TrimRight(r.URL.Path, "/") {
	case "/api/auth/anonymous", "/api/auth/logout":
		return true
	default:
		return false
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
