package notifier

import (
	"sync"
	"time"
)

// RateLimitConfig holds the dispatcher-wide notification rate limit.
type RateLimitConfig struct {
	MaxPerWindow int           // maximum notifications per window (default: 10)
	Window       time.Duration // sliding window length (default: 1 minute)
	Enabled      bool          // whether rate limiting is enabled
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter is a sliding window limiter shared across all channels of a
// dispatcher. It bounds outbound notification volume during alert storms.
type RateLimiter struct {
	mu           sync.Mutex
	maxPerWindow int
	window       time.Duration
	sent         []time.Time
	rejected     int64
	enabled      bool
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &RateLimiter{
		maxPerWindow: config.MaxPerWindow,
		window:       config.Window,
		sent:         make([]time.Time, 0, config.MaxPerWindow),
		enabled:      config.Enabled,
	}
}

// Allow reports whether one more notification fits in the current window
// and consumes a slot when it does.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.expire(now.Add(-r.window))

	if len(r.sent) >= r.maxPerWindow {
		r.rejected++
		return false
	}
	r.sent = append(r.sent, now)
	return true
}

// expire drops timestamps that fell out of the window. Caller holds the lock.
func (r *RateLimiter) expire(cutoff time.Time) {
	idx := 0
	for idx < len(r.sent) && r.sent[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(r.sent, r.sent[idx:])
		r.sent = r.sent[:len(r.sent)-idx]
	}
}

// Rejected returns the number of notifications refused by the limiter.
func (r *RateLimiter) Rejected() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected
}
