package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is one caller's token bucket and the last time it was touched.
type bucket struct {
	tokens  *rate.Limiter
	touched time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// idle for twice the cleanup interval are swept by a background goroutine.
type MemoryLimiter struct {
	every           rate.Limit
	burst           int
	limit           int
	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryLimiter returns a limiter refilling requestsPerMinute tokens a
// minute up to burst. Non-positive arguments fall back to one per minute, a
// burst of one and a five minute sweep.
func NewMemoryLimiter(requestsPerMinute int, burst int, cleanupInterval time.Duration) *MemoryLimiter {
	requestsPerMinute = max(requestsPerMinute, 1)
	burst = max(burst, 1)
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	m := &MemoryLimiter{
		every:           rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		limit:           requestsPerMinute,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		buckets:         make(map[string]*bucket),
		stop:            make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow takes a token from key's bucket. Denied calls leave the bucket as it was.
func (m *MemoryLimiter) Allow(key string) (bool, Info) {
	now := m.now()
	b := m.bucketFor(key, now)

	allowed := b.tokens.AllowN(now, 1)
	info := m.describe(b.tokens, now)
	if !allowed {
		r := b.tokens.ReserveN(now, 1)
		info.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	return allowed, info
}

func (m *MemoryLimiter) bucketFor(key string, now time.Time) *bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(m.every, m.burst)}
		m.buckets[key] = b
	}
	b.touched = now
	return b
}

// describe reports what is left in a bucket and when it will be full again.
func (m *MemoryLimiter) describe(tokens *rate.Limiter, now time.Time) Info {
	left := tokens.TokensAt(now)
	info := Info{
		Limit:     m.limit,
		Remaining: int(math.Max(0, math.Floor(left))),
		ResetAt:   now,
	}
	if missing := float64(m.burst) - left; missing > 0 {
		info.ResetAt = now.Add(time.Duration(missing / float64(m.every) * float64(time.Second)))
	}
	return info
}

// Len returns the number of live buckets.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the sweeper. It is safe to call more than once.
func (m *MemoryLimiter) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(m.now())
		}
	}
}

// sweep drops buckets untouched since two cleanup intervals before now.
func (m *MemoryLimiter) sweep(now time.Time) int {
	cutoff := now.Add(-2 * m.cleanupInterval)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, b := range m.buckets {
		if b.touched.Before(cutoff) {
			delete(m.buckets, key)
			dropped++
		}
	}
	return dropped
}
