// Package ratelimit implements the admission rate limiter: a sliding-window
// log keyed by caller identity.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Remaining is how many more requests fit in the current window.
	Remaining int
	// ResetAt is when the oldest request in the window expires.
	ResetAt time.Time
	// RetryAfter is zero when Allowed, otherwise the wait until a slot frees.
	RetryAfter time.Duration
}

// Limiter allows at most limit requests per key in any window-long interval.
// It is safe for concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu  sync.Mutex
	log map[string][]time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter. A non-positive limit or window denies nothing.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request for key if it fits the window.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()
	if l.limit <= 0 || l.window <= 0 {
		return Decision{Allowed: true, Remaining: -1, ResetAt: now}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := evict(l.log[key], now.Add(-l.window))

	if len(hits) >= l.limit {
		l.log[key] = hits
		resetAt := hits[0].Add(l.window)
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	hits = append(hits, now)
	l.log[key] = hits
	return Decision{
		Allowed:   true,
		Remaining: l.limit - len(hits),
		ResetAt:   hits[0].Add(l.window),
	}
}

// Prune drops keys whose whole log has expired and returns how many were
// removed.
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.log {
		if hits = evict(hits, cutoff); len(hits) == 0 {
			delete(l.log, key)
			removed++
			continue
		}
		l.log[key] = hits
	}
	return removed
}

// Keys returns the number of tracked keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.log)
}

// evict removes timestamps at or before cutoff. hits is sorted ascending.
func evict(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
