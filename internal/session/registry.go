package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// ErrDuplicate is returned by Register when the connection id is already
// present. It indicates a transport bug and is fatal for that connection.
var ErrDuplicate = errors.New("session: duplicate participant id")

// Participant is one live connection.
type Participant struct {
	ID            string
	Address       string // resolved network address, the key for bans and scores
	Alias         string // display name shown to partners
	ConnectedAt   time.Time
	LastMessageAt time.Time // zero until the first chat message
	Strikes       int       // violations attributed to this connection

	// Closing is set when a forced disconnect has been scheduled. A closing
	// participant is treated as gone by matchmaking and its events are dropped.
	Closing bool
}

// AliasFunc produces a display alias for a new participant.
type AliasFunc func() string

// StrangerAlias returns an AliasFunc producing "Stranger#NNNN" with NNNN in
// 1000..9999, drawn from rng.
func StrangerAlias(rng *rand.Rand) AliasFunc {
	return func() string {
		return fmt.Sprintf("Stranger#%d", 1000+rng.Intn(9000))
	}
}

// Registry maps connection ids to participants. It is owned by the lobby
// event loop and is not safe for concurrent use.
type Registry struct {
	participants map[string]*Participant
	alias        AliasFunc
	now          func() time.Time
}

// NewRegistry creates an empty registry. Nil arguments fall back to a
// time-seeded StrangerAlias and time.Now.
func NewRegistry(alias AliasFunc, now func() time.Time) *Registry {
	if alias == nil {
		alias = StrangerAlias(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		participants: make(map[string]*Participant),
		alias:        alias,
		now:          now,
	}
}

// Register records a new participant. Bans are not consulted here; the
// connect path checks them before calling Register.
func (r *Registry) Register(id, address string) (*Participant, error) {
	if _, ok := r.participants[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	p := &Participant{
		ID:          id,
		Address:     address,
		Alias:       r.alias(),
		ConnectedAt: r.now(),
	}
	r.participants[id] = p
	return p, nil
}

// Lookup returns the participant for id.
func (r *Registry) Lookup(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

// Remove deletes id and reports whether it was present. Removing an absent id
// is a no-op.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

// Live reports whether id is registered and not scheduled for disconnect.
func (r *Registry) Live(id string) bool {
	p, ok := r.participants[id]
	return ok && !p.Closing
}

// Count returns the number of registered participants, closing ones included.
func (r *Registry) Count() int {
	return len(r.participants)
}

// List returns a snapshot of all participants ordered by connect time.
// Callers may not mutate the returned values.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ByAddress returns the ids of participants connected from address.
func (r *Registry) ByAddress(address string) []string {
	var ids []string
	for id, p := range r.participants {
		if p.Address == address {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Each calls fn for every registered participant in no particular order. fn
// must not register or remove participants.
func (r *Registry) Each(fn func(p *Participant)) {
	for _, p := range r.participants {
		fn(p)
	}
}
