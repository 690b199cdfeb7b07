// Package ban provides the time-bounded denylist keyed by network address.
//
// A ban record whose expiry is in the past is logically absent. Both stores
// enforce that on every read; MemoryStore additionally offers Sweep for eager
// eviction and RedisStore relies on key TTLs:
//
//	Key:   ban:<address>
//	Value: <reason>
//	TTL:   ban duration
package ban

import (
	"context"
	"time"
)

const (
	// Escalating automatic ban durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense
)

// Record is a single active ban.
type Record struct {
	Address string    `json:"address"`
	Reason  string    `json:"reason"`
	Until   time.Time `json:"until"`
}

// Remaining returns the time left before the ban expires, never negative.
func (r Record) Remaining(now time.Time) time.Duration {
	if d := r.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the record is no longer in force at now.
func (r Record) Expired(now time.Time) bool {
	return !r.Until.After(now)
}

// Store is a denylist of network addresses. Implementations must never
// report a record whose expiry has passed.
type Store interface {
	// Ban writes (or overwrites) the record for address.
	Ban(ctx context.Context, address string, d time.Duration, reason string) (Record, error)
	// Unban removes the record for address. Removing an absent record is not
	// an error.
	Unban(ctx context.Context, address string) error
	// Lookup returns the active record for address, evicting it if expired.
	Lookup(ctx context.Context, address string) (Record, bool, error)
	// List returns all active records, evicting expired ones.
	List(ctx context.Context) ([]Record, error)
}

// EscalationDuration returns the automatic ban duration for an address that
// has already been banned priorBans times:
//
//	0 prior  -> 15 minutes
//	1 prior  -> 1 hour
//	2+ prior -> 24 hours
func EscalationDuration(priorBans int) time.Duration {
	switch {
	case priorBans <= 0:
		return Ban15Min
	case priorBans == 1:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}
