// Package ratelimit throttles manual runs. Every accepted trigger starts a
// probe and possibly a redeploy, so the API keeps callers to a small token
// bucket, keyed by API key when authenticated and by client IP otherwise.
package ratelimit

import (
	"time"

	"keepalive/internal/models"
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow checks whether a request identified by key should be allowed.
	// Returns whether the request is allowed and rate information for
	// populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per minute
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// NewFromConfig builds the in-memory limiter described by cfg.
func NewFromConfig(cfg models.RateLimitConfig) *MemoryLimiter {
	return NewMemoryLimiter(cfg.RequestsPerMinute, cfg.BurstSize, cfg.CleanupInterval)
}
