// Package lobby ties the registry, matchmaking queue, abuse engine and ban
// store together. A Lobby is the single owner of participant and pairing
// state; every method must be called from one goroutine at a time, which Hub
// guarantees by running them on its event loop.
package lobby

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/whisper/pairing/internal/abuse"
	"github.com/whisper/pairing/internal/ban"
	"github.com/whisper/pairing/internal/matching"
	"github.com/whisper/pairing/internal/metrics"
	"github.com/whisper/pairing/internal/moderation"
	"github.com/whisper/pairing/internal/protocol"
	"github.com/whisper/pairing/internal/session"
)

var (
	// ErrBanned is returned by Admit when the address has an active ban.
	ErrBanned = errors.New("lobby: address is banned")

	// ErrUnknownParticipant is returned by operator actions that name a
	// connection id that is not registered.
	ErrUnknownParticipant = errors.New("lobby: unknown participant")
)

// Transport delivers frames to connections and closes them.
type Transport interface {
	// Send queues data for the connection and must not block on the peer.
	// Connections that cannot keep up are dropped by the transport and
	// reported through Disconnect.
	Send(id string, data []byte) error
	// Close tears the connection down after frames already sent to it are
	// flushed. It must not call back into the lobby
	// synchronously; the resulting disconnect arrives as a later event.
	Close(id string) error
}

// Scheduler runs fn on the lobby's goroutine after d.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Observer receives moderation output. Implementations must not block.
type Observer interface {
	Action(ev moderation.ActionEvent)
	Watched(msg moderation.WatchedMessage)
}

// Config holds lobby timing and identity settings.
type Config struct {
	SpamInterval time.Duration // minimum gap between two chat messages
	KickGrace    time.Duration // delay between a forced notice and the disconnect
	StoreTimeout time.Duration // bound on ban store calls made from the loop

	Now   func() time.Time
	Alias session.AliasFunc
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		SpamInterval: 800 * time.Millisecond,
		KickGrace:    500 * time.Millisecond,
		StoreTimeout: 2 * time.Second,
		Now:          time.Now,
	}
}

// Deps are the collaborators shared with the rest of the process.
type Deps struct {
	Transport Transport
	Bans      ban.Store
	Abuse     *abuse.Engine
	Filter    *moderation.Filter
	Observer  Observer // nil logs moderation output
}

// Lobby is the pairing and moderation state machine.
type Lobby struct {
	cfg       Config
	now       func() time.Time
	transport Transport
	sched     Scheduler
	bans      ban.Store
	abuse     *abuse.Engine
	filter    *moderation.Filter
	observer  Observer

	registry *session.Registry
	queue    *matching.Queue
}

// New creates a lobby. Deferred disconnects are scheduled on sched.
func New(cfg Config, deps Deps, sched Scheduler) *Lobby {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if deps.Abuse == nil {
		deps.Abuse = abuse.NewEngine(abuse.DefaultPolicy())
	}
	if deps.Filter == nil {
		deps.Filter = moderation.NewFilter()
	}
	if deps.Bans == nil {
		deps.Bans = ban.NewMemoryStore(cfg.Now)
	}
	if deps.Observer == nil {
		deps.Observer = LogObserver{}
	}

	l := &Lobby{
		cfg:       cfg,
		now:       cfg.Now,
		transport: deps.Transport,
		sched:     sched,
		bans:      deps.Bans,
		abuse:     deps.Abuse,
		filter:    deps.Filter,
		observer:  deps.Observer,
		registry:  session.NewRegistry(cfg.Alias, cfg.Now),
	}
	l.queue = matching.NewQueue(l.registry.Live, queueNotifier{l})
	l.queue.SetClock(cfg.Now)
	return l
}

// CheckBan looks up address in the ban store. Store errors are logged and
// treated as "not banned" so a store outage does not lock everyone out. It
// does not touch lobby state and may run off the loop.
func (l *Lobby) CheckBan(ctx context.Context, address string) (ban.Record, bool) {
	rec, banned, err := l.bans.Lookup(ctx, address)
	if err != nil {
		log.Printf("[lobby] ban lookup for %s failed, admitting: %v", address, err)
		return ban.Record{}, false
	}
	return rec, banned
}

// Connect checks the ban store and admits the connection.
func (l *Lobby) Connect(ctx context.Context, id, address string) error {
	rec, banned := l.CheckBan(ctx, address)
	return l.Admit(id, address, rec, banned)
}

// Admit finishes a connect whose ban lookup already happened. A banned
// connection is told why and closed without ever being registered.
func (l *Lobby) Admit(id, address string, rec ban.Record, banned bool) error {
	if banned {
		metrics.ConnectRejectedTotal.WithLabelValues("banned").Inc()
		l.send(id, protocol.TypeForceBan, protocol.ForceBanMsg{
			Until:  rec.Until.UnixMilli(),
			Reason: rec.Reason,
		})
		l.closeTransport(id)
		log.Printf("[lobby] rejected banned address=%s conn=%s until=%s", address, id, rec.Until.Format(time.RFC3339))
		return ErrBanned
	}

	p, err := l.registry.Register(id, address)
	if err != nil {
		metrics.ConnectRejectedTotal.WithLabelValues("duplicate").Inc()
		log.Printf("[lobby] register conn=%s: %v", id, err)
		l.closeTransport(id)
		return err
	}

	l.send(id, protocol.TypeWelcome, protocol.WelcomeMsg{ID: id, Alias: p.Alias})
	l.broadcastCount()
	l.queue.Enqueue(id)
	l.updateGauges()
	return nil
}

// Disconnect runs the single teardown path for a connection: the pair is
// dissolved (re-enqueueing the partner), the participant leaves the registry
// and the new count is broadcast. Unknown ids are ignored.
func (l *Lobby) Disconnect(id string) {
	if _, ok := l.registry.Lookup(id); !ok {
		return
	}
	l.teardown(id)
	l.registry.Remove(id)
	l.broadcastCount()
	l.updateGauges()
}

// Skip ends id's current pairing and queues it for a new partner.
func (l *Lobby) Skip(id string) {
	if !l.registry.Live(id) {
		return
	}
	l.teardown(id)
	l.queue.Enqueue(id)
	l.updateGauges()
}

// Online returns the number of registered participants.
func (l *Lobby) Online() int {
	return l.registry.Count()
}

// Waiting returns the id in the waiting slot, or "".
func (l *Lobby) Waiting() string {
	return l.queue.Waiting()
}

// Partner returns id's current partner.
func (l *Lobby) Partner(id string) (string, bool) {
	return l.queue.Partner(id)
}

// Participant returns a copy of the participant registered under id.
func (l *Lobby) Participant(id string) (session.Participant, bool) {
	p, ok := l.registry.Lookup(id)
	if !ok {
		return session.Participant{}, false
	}
	return *p, true
}

func (l *Lobby) teardown(id string) {
	if p, ok := l.queue.PairOf(id); ok {
		metrics.PairDuration.Observe(l.now().Sub(p.StartedAt).Seconds())
	}
	l.queue.Teardown(id)
}

// evict marks p closing, dissolves its pair, delivers notice and schedules
// the disconnect after the grace period. Evicting a participant that is
// already closing does nothing.
func (l *Lobby) evict(p *session.Participant, noticeType string, notice interface{}) {
	if p.Closing {
		return
	}
	p.Closing = true
	l.teardown(p.ID)
	l.send(p.ID, noticeType, notice)
	l.updateGauges()

	id := p.ID
	l.sched.After(l.cfg.KickGrace, func() {
		l.Disconnect(id)
		l.closeTransport(id)
	})
}

func (l *Lobby) kick(p *session.Participant, reason string) {
	l.evict(p, protocol.TypeForceKick, protocol.ForceKickMsg{Reason: reason})
}

// banAndEvict evicts p and then every other live connection from the banned
// address.
func (l *Lobby) banAndEvict(p *session.Participant, rec ban.Record) {
	notice := protocol.ForceBanMsg{Until: rec.Until.UnixMilli(), Reason: rec.Reason}
	l.evict(p, protocol.TypeForceBan, notice)
	for _, id := range l.registry.ByAddress(p.Address) {
		if other, ok := l.registry.Lookup(id); ok && !other.Closing {
			log.Printf("[lobby] evicting conn=%s sharing banned address=%s", id, p.Address)
			l.evict(other, protocol.TypeForceBan, notice)
		}
	}
}

func (l *Lobby) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), l.cfg.StoreTimeout)
}

// send encodes and delivers one server event. Failures are logged; the
// transport notices dead connections on its own.
func (l *Lobby) send(id, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[lobby] encode %s for conn=%s: %v", msgType, id, err)
		return
	}
	if err := l.transport.Send(id, data); err != nil {
		log.Printf("[lobby] send %s to conn=%s: %v", msgType, id, err)
	}
}

func (l *Lobby) closeTransport(id string) {
	if err := l.transport.Close(id); err != nil {
		log.Printf("[lobby] close conn=%s: %v", id, err)
	}
}

func (l *Lobby) broadcastCount() {
	data, err := protocol.NewServerMessage(protocol.TypeOnlineCount, protocol.OnlineCountMsg{Count: l.registry.Count()})
	if err != nil {
		log.Printf("[lobby] encode online count: %v", err)
		return
	}
	l.registry.Each(func(p *session.Participant) {
		if p.Closing {
			return
		}
		if err := l.transport.Send(p.ID, data); err != nil {
			log.Printf("[lobby] send online count to conn=%s: %v", p.ID, err)
		}
	})
}

func (l *Lobby) updateGauges() {
	metrics.ConnectionsTotal.Set(float64(l.registry.Count()))
	metrics.ActivePairs.Set(float64(l.queue.PairCount()))
	if l.queue.Waiting() != "" {
		metrics.WaitingParticipants.Set(1)
	} else {
		metrics.WaitingParticipants.Set(0)
	}
}

// queueNotifier turns queue outcomes into client events.
type queueNotifier struct {
	l *Lobby
}

func (n queueNotifier) Waiting(id string) {
	n.l.send(id, protocol.TypeWaiting, protocol.WaitingMsg{})
}

func (n queueNotifier) Matched(p *matching.Pair) {
	n.l.send(p.A, protocol.TypeMatched, protocol.MatchedMsg{Initiator: p.Initiator == p.A})
	n.l.send(p.B, protocol.TypeMatched, protocol.MatchedMsg{Initiator: p.Initiator == p.B})
	log.Printf("[lobby] paired %s with %s pair=%s initiator=%s", p.A, p.B, p.ID, p.Initiator)
}

func (n queueNotifier) PartnerLeft(survivor string, _ *matching.Pair) {
	if !n.l.registry.Live(survivor) {
		return
	}
	n.l.send(survivor, protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
}

// LogObserver writes moderation output to the standard logger.
type LogObserver struct{}

// Action logs a moderation action.
func (LogObserver) Action(ev moderation.ActionEvent) {
	log.Printf("[moderation] %s source=%s conn=%s address=%s reason=%q score=%d",
		ev.Action, ev.Source, ev.ConnID, ev.Address, ev.Reason, ev.Score)
}

// Watched logs a message relayed inside a watched pair.
func (LogObserver) Watched(msg moderation.WatchedMessage) {
	log.Printf("[watch] pair=%s %s: %s", msg.PairID, msg.Alias, msg.Text)
}

// Observers fans moderation output out to several observers in order.
type Observers []Observer

// Action forwards ev to every observer.
func (obs Observers) Action(ev moderation.ActionEvent) {
	for _, o := range obs {
		o.Action(ev)
	}
}

// Watched forwards msg to every observer.
func (obs Observers) Watched(msg moderation.WatchedMessage) {
	for _, o := range obs {
		o.Watched(msg)
	}
}
