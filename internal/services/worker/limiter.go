package worker

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket bounding how many jobs may start per window.
// The bucket starts full, so a burst of up to `limit` jobs starts at once
// and later starts are spaced out at limit/window.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewLimiter allows limit job starts per window. A non-positive limit
// disables limiting.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{now: time.Now}
	if limit > 0 && window > 0 {
		l.maxTokens = float64(limit)
		l.tokens = float64(limit)
		l.refillRate = float64(limit) / window.Seconds()
	}
	l.lastRefill = l.now()
	return l
}

// reserve takes a token if one is available. Otherwise it reports how long
// until the next token.
func (l *Limiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTokens == 0 {
		return true, 0
	}

	// Refill tokens based on elapsed time
	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens--
		return true, 0
	}
	missing := 1.0 - l.tokens
	return false, time.Duration(missing / l.refillRate * float64(time.Second))
}

// Wait blocks until a job may start or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.reserve()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
