package ban

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestEscalationDuration(t *testing.T) {
	cases := []struct {
		prior    int
		expected time.Duration
	}{
		{-1, Ban15Min},
		{0, Ban15Min},
		{1, Ban1Hour},
		{2, Ban24Hour},
		{3, Ban24Hour},
		{10, Ban24Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, EscalationDuration(tc.prior), "prior=%d", tc.prior)
	}
}

func TestRecord_Remaining(t *testing.T) {
	now := time.Now()
	rec := Record{Until: now.Add(90 * time.Second)}

	assert.Equal(t, 90*time.Second, rec.Remaining(now))
	assert.Equal(t, time.Duration(0), rec.Remaining(now.Add(2*time.Minute)))
	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Expired(rec.Until), "expiry instant counts as expired")
}

func TestMemoryStore_BanAndLookup(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	rec, err := s.Ban(ctx, "10.0.0.1", 30*time.Minute, "spam")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*time.Minute), rec.Until)

	got, ok, err := s.Lookup(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "spam", got.Reason)
	assert.Equal(t, 30*time.Minute, got.Remaining(clock.Now()))

	_, ok, err = s.Lookup(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ExpiredRecordEvictedOnRead(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := s.Ban(ctx, "10.0.0.1", time.Minute, "abuse")
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Millisecond)
	require.Equal(t, 1, s.Len(), "record stays until it is read")

	_, ok, err := s.Lookup(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len(), "lookup must evict the expired record")
}

func TestMemoryStore_ListEvictsExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _ = s.Ban(ctx, "a", 10*time.Minute, "r1")
	_, _ = s.Ban(ctx, "b", time.Minute, "r2")
	_, _ = s.Ban(ctx, "c", 5*time.Minute, "r3")
	clock.Advance(2 * time.Minute)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].Address, "ordered by expiry")
	assert.Equal(t, "a", list[1].Address)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _ = s.Ban(ctx, "a", time.Minute, "")
	_, _ = s.Ban(ctx, "b", time.Minute, "")
	_, _ = s.Ban(ctx, "c", time.Hour, "")
	clock.Advance(time.Minute)

	assert.Equal(t, 2, s.Sweep())
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.Sweep())
}

func TestMemoryStore_UnbanIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, _ = s.Ban(ctx, "10.0.0.1", time.Hour, "x")
	require.NoError(t, s.Unban(ctx, "10.0.0.1"))
	require.NoError(t, s.Unban(ctx, "10.0.0.1"))

	_, ok, _ := s.Lookup(ctx, "10.0.0.1")
	assert.False(t, ok)
}

func TestMemoryStore_BanOverwrites(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _ = s.Ban(ctx, "a", time.Hour, "first")
	_, _ = s.Ban(ctx, "a", time.Minute, "second")

	rec, ok, _ := s.Lookup(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "second", rec.Reason)
	assert.Equal(t, time.Minute, rec.Remaining(clock.Now()))
}

// ---------------------------------------------------------------------------
// Redis-backed store. Requires a running Redis on localhost:6379.
// ---------------------------------------------------------------------------

// newTestRedisStore creates a RedisStore connected to a local Redis instance
// and flushes all test ban keys before returning.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, BanPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewRedisStore(client)
}

func TestRedisStore_NotBanned(t *testing.T) {
	store := newTestRedisStore(t)

	_, ok, err := store.Lookup(context.Background(), "test_no_ban")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_BanAndLookup(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Ban(ctx, "test_ban_check", 30*time.Second, "spam")
	require.NoError(t, err)

	rec, ok, err := store.Lookup(ctx, "test_ban_check")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "spam", rec.Reason)
	assert.Equal(t, "test_ban_check", rec.Address)

	remaining := rec.Remaining(time.Now())
	assert.True(t, remaining > 0 && remaining <= 30*time.Second, "remaining=%v", remaining)
}

func TestRedisStore_Unban(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Ban(ctx, "test_unban", time.Minute, "test")
	require.NoError(t, err)
	require.NoError(t, store.Unban(ctx, "test_unban"))

	_, ok, err := store.Lookup(ctx, "test_unban")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ExpiresWithTTL(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Ban(ctx, "test_short", 50*time.Millisecond, "short")
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	_, ok, err := store.Lookup(ctx, "test_short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_List(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, _ = store.Ban(ctx, "test_list_a", time.Hour, "a")
	_, _ = store.Ban(ctx, "test_list_b", time.Minute, "b")

	list, err := store.List(ctx)
	require.NoError(t, err)

	var found []string
	for _, rec := range list {
		if rec.Address == "test_list_a" || rec.Address == "test_list_b" {
			found = append(found, rec.Address)
		}
	}
	assert.Equal(t, []string{"test_list_b", "test_list_a"}, found)
}
