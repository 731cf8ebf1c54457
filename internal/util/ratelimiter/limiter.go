package ratelimiter

import (
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

// Limiter allows one action per interval and is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	now         Clock
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the time source
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.now = c }
}

// New creates a limiter admitting at most one action per interval.
func New(interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether an action may run now and records it if so.
// When rate-limited it returns the remaining wait.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastAllowed.IsZero() || now.Sub(l.lastAllowed) >= l.interval {
		l.lastAllowed = now
		return true, 0
	}

	return false, l.interval - now.Sub(l.lastAllowed)
}

// Reset clears the limiter state, allowing the next action immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.mu.Unlock()
}

// Interval returns the configured rate limit interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
