package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per rule and identifier. A bucket
// holds rule.Limit tokens and refills at rule.Limit per rule.Window, so a
// burst of Limit is allowed and sustained traffic is held to the same rate.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

// Allow consumes one token for identifier. It never errors.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	now := l.clockNow()
	key := rule.Key + identifier

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: newBucket(rule)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1), nil
}

func newBucket(rule Rule) *rate.Limiter {
	burst := rule.Limit
	if burst <= 0 {
		burst = 1
	}
	window := rule.Window
	if window <= 0 {
		window = time.Minute
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/window.Seconds()), burst)
}

// Sweep forgets identifiers idle for longer than idle and returns how many
// were removed.
func (l *MemoryLimiter) Sweep(idle time.Duration) int {
	cutoff := l.clockNow().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(idle)
			}
		}
	}()
}
