package ban

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanPrefix is the Redis key prefix for ban records.
const BanPrefix = "ban:"

// RedisStore manages ban records in Redis. Expiry is delegated to key TTLs so
// every replica sharing the Redis instance sees the same denylist.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a ban store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Ban sets a ban on an address with the given duration and reason. The ban
// automatically expires after the specified duration.
func (s *RedisStore) Ban(ctx context.Context, address string, d time.Duration, reason string) (Record, error) {
	key := BanPrefix + address
	if err := s.client.Set(ctx, key, reason, d).Err(); err != nil {
		return Record{}, fmt.Errorf("ban: set %s: %w", address, err)
	}
	return Record{Address: address, Reason: reason, Until: s.now().Add(d)}, nil
}

// Unban removes a ban from an address immediately.
func (s *RedisStore) Unban(ctx context.Context, address string) error {
	if err := s.client.Del(ctx, BanPrefix+address).Err(); err != nil {
		return fmt.Errorf("ban: del %s: %w", address, err)
	}
	return nil
}

// Lookup checks if an address is currently banned. Redis errors are returned
// so callers can decide how to handle them (the connect path fails open).
func (s *RedisStore) Lookup(ctx context.Context, address string) (Record, bool, error) {
	return s.lookupKey(ctx, BanPrefix+address)
}

func (s *RedisStore) lookupKey(ctx context.Context, key string) (Record, bool, error) {
	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("ban: get %s: %w", key, err)
	}

	address := strings.TrimPrefix(key, BanPrefix)
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		// We know the ban exists but can't read the TTL. Report it with no
		// remaining time rather than swallowing the ban.
		return Record{Address: address, Reason: reason, Until: s.now()}, true, nil
	}

	switch {
	case ttl == -2:
		// Expired between GET and PTTL.
		return Record{}, false, nil
	case ttl < 0:
		// A key without TTL would be a permanent ban; this store never
		// writes one, so treat it as corrupt and evict it.
		s.client.Del(ctx, key)
		return Record{}, false, nil
	}

	return Record{Address: address, Reason: reason, Until: s.now().Add(ttl)}, true, nil
}

// List scans all ban keys and returns the active records ordered by expiry.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	var out []Record

	iter := s.client.Scan(ctx, 0, BanPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rec, ok, err := s.lookupKey(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ban: scan: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Until.Before(out[j].Until) })
	return out, nil
}
