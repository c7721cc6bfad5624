// Package ratelimit implements the sliding-window request limiter used by
// the HTTP ingress, grounded on
// original_source/channels/http_api.py's _RateLimiter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to maxRequests per key within a trailing window.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New returns a Limiter permitting maxRequests per key every window.
func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{maxRequests: maxRequests, window: window, hits: map[string][]time.Time{}}
}

// Allow reports whether key may make one more request now, recording the
// hit if so. Stale hits older than the window are pruned on every call.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[key]
	fresh := hits[:0]
	for _, t := range hits {
		if now.Sub(t) < l.window {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= l.maxRequests {
		l.hits[key] = fresh
		return false
	}
	l.hits[key] = append(fresh, now)
	return true
}
