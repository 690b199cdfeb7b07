package ban

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps bans in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]Record),
		now:     now,
	}
}

// Ban sets a ban on address for duration d.
func (s *MemoryStore) Ban(_ context.Context, address string, d time.Duration, reason string) (Record, error) {
	rec := Record{Address: address, Reason: reason, Until: s.now().Add(d)}

	s.mu.Lock()
	s.records[address] = rec
	s.mu.Unlock()
	return rec, nil
}

// Unban removes a ban immediately.
func (s *MemoryStore) Unban(_ context.Context, address string) error {
	s.mu.Lock()
	delete(s.records, address)
	s.mu.Unlock()
	return nil
}

// Lookup returns the active ban for address. An expired record is deleted on
// this read and reported as absent.
func (s *MemoryStore) Lookup(_ context.Context, address string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[address]
	if !ok {
		return Record{}, false, nil
	}
	if rec.Expired(s.now()) {
		delete(s.records, address)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// List returns active bans ordered by expiry, soonest first.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	now := s.now()

	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for addr, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, addr)
			continue
		}
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Until.Before(out[j].Until) })
	return out, nil
}

// Sweep deletes every expired record and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for addr, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, addr)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records, including expired ones not yet
// evicted.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
