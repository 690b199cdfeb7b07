package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the window counter and starts the window on the
// first hit in one round trip, so a crash between the two steps cannot leave
// a counter without a TTL.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter is a fixed-window limiter shared by every replica that talks
// to the same Redis.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow counts one hit for identifier and reports whether the window still
// has room. Redis errors fail open.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	n, err := fixedWindow.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("[ratelimit] redis window error key=%s: %v (failing open)", key, err)
		return true, fmt.Errorf("ratelimit: count %s: %w", key, err)
	}
	return n <= int64(rule.Limit), nil
}

// Remaining reports how many hits identifier has left in the current window.
// A missing key means a fresh window.
func (l *RedisLimiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier
	used, err := l.client.Get(ctx, key).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return rule.Limit, nil
	case err != nil:
		return rule.Limit, fmt.Errorf("ratelimit: read %s: %w", key, err)
	}
	return max(rule.Limit-used, 0), nil
}
