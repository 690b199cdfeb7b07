package lobby

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/whisper/pairing/internal/ban"
)

// ErrStopped is returned by Hub calls made after the loop exited.
var ErrStopped = errors.New("lobby: hub stopped")

const defaultEventBuffer = 4096

// Hub serializes every lobby event on a single goroutine. Transport callbacks,
// operator requests and deferred disconnects are posted as closures and run
// to completion in arrival order, so lobby state never needs a lock.
type Hub struct {
	lobby  *Lobby
	events chan func()
	done   chan struct{}
}

// NewHub creates a hub owning a new lobby. The hub is the lobby's scheduler.
func NewHub(cfg Config, deps Deps) *Hub {
	h := &Hub{
		events: make(chan func(), defaultEventBuffer),
		done:   make(chan struct{}),
	}
	h.lobby = New(cfg, deps, h)
	return h
}

// Run processes events until ctx is cancelled. Events still queued at that
// point are discarded.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Printf("[lobby] event loop started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[lobby] event loop stopped")
			return
		case fn := <-h.events:
			h.run(fn)
		}
	}
}

// run executes one event, containing panics to that event.
func (h *Hub) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[lobby] event panicked: %v", r)
		}
	}()
	fn()
}

// post queues fn for the loop. It blocks while the buffer is full and
// reports false once the loop has exited.
func (h *Hub) post(fn func()) bool {
	select {
	case h.events <- fn:
		return true
	case <-h.done:
		return false
	}
}

// After schedules fn on the loop after d.
func (h *Hub) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { h.post(fn) })
}

// Do runs fn on the loop and waits for it. It returns ctx.Err() if ctx ends
// first; fn may still run later in that case.
func (h *Hub) Do(ctx context.Context, fn func(l *Lobby) error) error {
	result := make(chan error, 1)
	if !h.post(func() { result <- fn(h.lobby) }) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrStopped
	}
}

// Connect admits a new connection. The ban lookup runs on the caller's
// goroutine so a slow ban store never stalls the loop.
func (h *Hub) Connect(ctx context.Context, id, address string) {
	rec, banned := h.lobby.CheckBan(ctx, address)
	h.post(func() { _ = h.lobby.Admit(id, address, rec, banned) })
}

// Disconnect reports that the transport lost id.
func (h *Hub) Disconnect(id string) {
	h.post(func() { h.lobby.Disconnect(id) })
}

// Message delivers a parsed client message.
func (h *Hub) Message(id, msgType string, msg interface{}) {
	h.post(func() { h.lobby.HandleMessage(id, msgType, msg) })
}

// Stats returns the operator view. Bans are read off the loop.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var snap Snapshot
	if err := h.Do(ctx, func(l *Lobby) error {
		snap = l.Snapshot()
		return nil
	}); err != nil {
		return Stats{}, err
	}
	bans, err := h.lobby.ListBans(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Snapshot: snap, Bans: bans}, nil
}

// Kick force-disconnects a connection.
func (h *Hub) Kick(ctx context.Context, id string) error {
	return h.Do(ctx, func(l *Lobby) error { return l.Kick(id) })
}

// BanConnection bans a live connection's address and disconnects it.
func (h *Hub) BanConnection(ctx context.Context, id string, d time.Duration, reason string) (ban.Record, error) {
	var rec ban.Record
	err := h.Do(ctx, func(l *Lobby) error {
		var err error
		rec, err = l.BanConnection(ctx, id, d, reason)
		return err
	})
	return rec, err
}

// BanAddress bans a raw address. It does not touch loop state.
func (h *Hub) BanAddress(ctx context.Context, address string, d time.Duration, reason string) (ban.Record, error) {
	return h.lobby.BanAddress(ctx, address, d, reason)
}

// UnbanAddress lifts a ban. It does not touch loop state.
func (h *Hub) UnbanAddress(ctx context.Context, address string) error {
	return h.lobby.UnbanAddress(ctx, address)
}

// Watch marks a connection's pair for observation.
func (h *Hub) Watch(ctx context.Context, id string) (bool, error) {
	var watched bool
	err := h.Do(ctx, func(l *Lobby) error {
		var err error
		watched, err = l.Watch(id)
		return err
	})
	return watched, err
}
