// Package matching pairs waiting participants one-on-one. It owns the single
// waiting slot and the pairing table; the partner relation is only ever
// changed here, so both sides of a pair are set and cleared together.
package matching

import (
	"time"

	"github.com/google/uuid"
)

// Pair is an active one-on-one session. Both members map to the same *Pair in
// the pairing table.
type Pair struct {
	ID        string
	A         string // the participant who was waiting
	B         string // the participant who arrived
	Initiator string // creates the WebRTC offer
	Watched   bool   // chat is mirrored to the control plane
	StartedAt time.Time
}

// Other returns the member of the pair that is not id.
func (p *Pair) Other(id string) string {
	if p.A == id {
		return p.B
	}
	return p.A
}

// Has reports whether id is a member of the pair.
func (p *Pair) Has(id string) bool {
	return p.A == id || p.B == id
}

// Notifier receives queue outcomes. Implementations must not call back into
// the queue.
type Notifier interface {
	// Waiting is sent when id occupies the waiting slot.
	Waiting(id string)
	// Matched is sent once per new pair; both members must be told.
	Matched(p *Pair)
	// PartnerLeft is sent to the survivor of a torn-down pair.
	PartnerLeft(survivor string, p *Pair)
}

// LiveFunc reports whether a participant is connected and not scheduled for
// disconnect.
type LiveFunc func(id string) bool

// Queue is the matchmaking state machine. It is owned by the lobby event
// loop and is not safe for concurrent use.
type Queue struct {
	waiting string
	pairs   map[string]*Pair

	live   LiveFunc
	notify Notifier
	now    func() time.Time
	newID  func() string
}

// NewQueue creates an empty queue.
func NewQueue(live LiveFunc, notify Notifier) *Queue {
	return &Queue{
		pairs:  make(map[string]*Pair),
		live:   live,
		notify: notify,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetClock overrides the clock used for Pair.StartedAt.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue places id in the waiting slot or pairs it with the participant
// already there.
func (q *Queue) Enqueue(id string) {
	if _, paired := q.pairs[id]; paired || !q.live(id) {
		return
	}

	other := q.Waiting()
	switch other {
	case id:
		q.notify.Waiting(id)
		return
	case "":
		q.waiting = id
		q.notify.Waiting(id)
		return
	}

	q.waiting = ""
	p := &Pair{
		ID:        q.newID(),
		A:         other,
		B:         id,
		Initiator: id,
		StartedAt: q.now(),
	}
	q.pairs[other] = p
	q.pairs[id] = p
	q.notify.Matched(p)
}

// Teardown removes id from the waiting slot and dissolves its pair, if any.
// The survivor is told its partner left and is re-enqueued. It returns the
// survivor's id. Teardown must run before id leaves the registry.
func (q *Queue) Teardown(id string) (string, bool) {
	if q.waiting == id {
		q.waiting = ""
	}

	p, ok := q.pairs[id]
	if !ok {
		return "", false
	}
	survivor := p.Other(id)
	delete(q.pairs, id)
	delete(q.pairs, survivor)

	q.notify.PartnerLeft(survivor, p)
	q.Enqueue(survivor)
	return survivor, true
}

// Waiting returns the current slot occupant after clearing it if the occupant
// is no longer live or has been paired.
func (q *Queue) Waiting() string {
	if q.waiting == "" {
		return ""
	}
	if _, paired := q.pairs[q.waiting]; paired || !q.live(q.waiting) {
		q.waiting = ""
	}
	return q.waiting
}

// Partner returns id's current partner.
func (q *Queue) Partner(id string) (string, bool) {
	p, ok := q.pairs[id]
	if !ok {
		return "", false
	}
	return p.Other(id), true
}

// PairOf returns the pair id belongs to.
func (q *Queue) PairOf(id string) (*Pair, bool) {
	p, ok := q.pairs[id]
	return p, ok
}

// Watch marks id's pair for observation. It reports false when id is not
// paired.
func (q *Queue) Watch(id string) (*Pair, bool) {
	p, ok := q.pairs[id]
	if !ok {
		return nil, false
	}
	p.Watched = true
	return p, true
}

// PairCount returns the number of active pairs.
func (q *Queue) PairCount() int {
	return len(q.pairs) / 2
}
