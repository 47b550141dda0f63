// Package ratelimit provides a sliding-window request limiter keyed by sender.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most limit events per key within a sliding window.
// The zero limit disables limiting.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
}

// NewLimiter constructs a limiter allowing limit events per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		seen:   make(map[string][]time.Time),
	}
}

// Allow reports whether an event for key at the given instant is admitted,
// and records it when admitted.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.seen[key][:0]
	for _, at := range l.seen[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.limit {
		l.seen[key] = recent
		return false
	}
	l.seen[key] = append(recent, now)
	return true
}
