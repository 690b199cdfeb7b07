// Package ratelimit provides per-identity throttling for connection accepts
// and operator requests. Two backends share one Rule type: a Redis INCR +
// EXPIRE fixed window shared by every replica, and an in-process token bucket
// for single-node deployments.
package ratelimit

import (
	"context"
	"time"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:conn:", "rl:admin:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rate limiting rules.
var (
	// RuleConnect allows 20 WebSocket connections per minute per address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}

	// RuleAdmin allows 60 operator API calls per minute per client.
	RuleAdmin = Rule{Key: "rl:admin:", Limit: 60, Window: 1 * time.Minute}
)

// WithLimit returns a copy of r with a different limit. Non-positive limits
// leave r unchanged.
func (r Rule) WithLimit(limit int) Rule {
	if limit > 0 {
		r.Limit = limit
	}
	return r
}

// Limiter decides whether identifier may perform one more action under rule.
// Implementations fail open: when the backend errors, Allow returns true
// together with the error.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}
