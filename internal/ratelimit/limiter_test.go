package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryLimiter(start time.Time) (*MemoryLimiter, *time.Time) {
	now := start
	l := NewMemoryLimiter()
	l.clockNow = func() time.Time { return now }
	return l, &now
}

func TestMemoryLimiter_BurstThenRefill(t *testing.T) {
	l, now := newTestMemoryLimiter(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	rule := Rule{Key: "t:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.1.1.1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i+1)
	}
	ok, _ := l.Allow(ctx, "1.1.1.1", rule)
	assert.False(t, ok, "burst exhausted")

	// One token refills every 20s.
	*now = now.Add(21 * time.Second)
	ok, _ = l.Allow(ctx, "1.1.1.1", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "1.1.1.1", rule)
	assert.False(t, ok)
}

func TestMemoryLimiter_IdentifiersAndRulesAreIndependent(t *testing.T) {
	l, _ := newTestMemoryLimiter(time.Now())
	ctx := context.Background()
	a := Rule{Key: "a:", Limit: 1, Window: time.Minute}
	b := Rule{Key: "b:", Limit: 1, Window: time.Minute}

	ok, _ := l.Allow(ctx, "x", a)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "x", a)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "y", a)
	assert.True(t, ok, "other identifier has its own bucket")
	ok, _ = l.Allow(ctx, "x", b)
	assert.True(t, ok, "other rule has its own bucket")
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l, now := newTestMemoryLimiter(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	l.Allow(ctx, "old", RuleConnect)
	*now = now.Add(10 * time.Minute)
	l.Allow(ctx, "fresh", RuleConnect)

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Equal(t, 0, l.Sweep(5*time.Minute))
}

func TestRule_WithLimit(t *testing.T) {
	assert.Equal(t, 7, RuleConnect.WithLimit(7).Limit)
	assert.Equal(t, RuleConnect.Limit, RuleConnect.WithLimit(0).Limit)
	assert.Equal(t, 20, RuleConnect.Limit, "original is not modified")
}

// newTestRedisLimiter connects to a local Redis and removes test keys.
// Tests are skipped if Redis is unavailable.
func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisLimiter(client), client
}

func TestRedisLimiter_Allow(t *testing.T) {
	l, client := newTestRedisLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip", rule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, "rl:test:ip").Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl=%v", ttl)

	remaining, err := l.Remaining(ctx, "ip", rule)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = l.Remaining(ctx, "unused", rule)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	l := NewRedisLimiter(client)

	ok, err := l.Allow(context.Background(), "ip", RuleConnect)
	assert.Error(t, err)
	assert.True(t, ok)
}
