package lobby

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/whisper/pairing/internal/ban"
	"github.com/whisper/pairing/internal/metrics"
	"github.com/whisper/pairing/internal/moderation"
)

// ParticipantInfo is the operator view of one connection.
type ParticipantInfo struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	Alias       string    `json:"alias"`
	Strikes     int       `json:"strikes"`
	Score       int       `json:"score"`
	Partnered   bool      `json:"partnered"`
	Watched     bool      `json:"watched"`
	Closing     bool      `json:"closing,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// BanInfo is the operator view of one ban, with the remaining time computed
// when the stats were read.
type BanInfo struct {
	Address     string    `json:"address"`
	Reason      string    `json:"reason"`
	Until       time.Time `json:"until"`
	RemainingMS int64     `json:"remaining_ms"`
}

// Snapshot is the loop-owned half of Stats.
type Snapshot struct {
	Online       int               `json:"online"`
	Waiting      bool              `json:"waiting"`
	Pairs        int               `json:"pairs"`
	Participants []ParticipantInfo `json:"participants"`
}

// Stats is the aggregate operator view.
type Stats struct {
	Snapshot
	Bans []BanInfo `json:"bans"`
}

// Snapshot reads participant and pairing state.
func (l *Lobby) Snapshot() Snapshot {
	list := l.registry.List()
	out := Snapshot{
		Online:       len(list),
		Waiting:      l.queue.Waiting() != "",
		Pairs:        l.queue.PairCount(),
		Participants: make([]ParticipantInfo, 0, len(list)),
	}
	for _, p := range list {
		info := ParticipantInfo{
			ID:          p.ID,
			Address:     p.Address,
			Alias:       p.Alias,
			Strikes:     p.Strikes,
			Score:       l.abuse.Score(p.Address),
			Closing:     p.Closing,
			ConnectedAt: p.ConnectedAt,
		}
		if pair, ok := l.queue.PairOf(p.ID); ok {
			info.Partnered = true
			info.Watched = pair.Watched
		}
		out.Participants = append(out.Participants, info)
	}
	return out
}

// ListBans reads the active bans. It only touches the ban store and may run
// off the loop.
func (l *Lobby) ListBans(ctx context.Context) ([]BanInfo, error) {
	recs, err := l.bans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("lobby: list bans: %w", err)
	}
	now := l.now()
	out := make([]BanInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, BanInfo{
			Address:     r.Address,
			Reason:      r.Reason,
			Until:       r.Until,
			RemainingMS: r.Remaining(now).Milliseconds(),
		})
	}
	return out, nil
}

// Stats combines Snapshot and ListBans.
func (l *Lobby) Stats(ctx context.Context) (Stats, error) {
	bans, err := l.ListBans(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Snapshot: l.Snapshot(), Bans: bans}, nil
}

// Kick force-disconnects a connection without banning it. Kicking a
// connection that is already on its way out succeeds without effect.
func (l *Lobby) Kick(id string) error {
	p, ok := l.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if p.Closing {
		return nil
	}
	l.kick(p, "admin")
	l.operatorAction("kick", id, p.Address, "admin", time.Time{})
	log.Printf("[lobby] operator kick conn=%s address=%s", id, p.Address)
	return nil
}

// BanConnection bans the address of a live connection for d, then
// force-disconnects that connection and any other connection from the same
// address.
func (l *Lobby) BanConnection(ctx context.Context, id string, d time.Duration, reason string) (ban.Record, error) {
	p, ok := l.registry.Lookup(id)
	if !ok {
		return ban.Record{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	rec, err := l.bans.Ban(ctx, p.Address, d, reason)
	if err != nil {
		return ban.Record{}, fmt.Errorf("lobby: ban %s: %w", p.Address, err)
	}
	l.banAndEvict(p, rec)
	l.operatorAction("ban", id, p.Address, reason, rec.Until)
	log.Printf("[lobby] operator ban conn=%s address=%s for %s reason=%q", id, p.Address, d, reason)
	return rec, nil
}

// BanAddress bans a raw address. Live connections from that address are left
// alone; the ban applies to their next connect.
func (l *Lobby) BanAddress(ctx context.Context, address string, d time.Duration, reason string) (ban.Record, error) {
	rec, err := l.bans.Ban(ctx, address, d, reason)
	if err != nil {
		return ban.Record{}, fmt.Errorf("lobby: ban %s: %w", address, err)
	}
	l.operatorAction("ban", "", address, reason, rec.Until)
	log.Printf("[lobby] operator ban address=%s for %s reason=%q", address, d, reason)
	return rec, nil
}

// UnbanAddress lifts a ban and clears the address's abuse score and ban
// history.
func (l *Lobby) UnbanAddress(ctx context.Context, address string) error {
	if err := l.bans.Unban(ctx, address); err != nil {
		return fmt.Errorf("lobby: unban %s: %w", address, err)
	}
	l.abuse.Forget(address)
	l.operatorAction("unban", "", address, "", time.Time{})
	log.Printf("[lobby] operator unban address=%s", address)
	return nil
}

// Watch marks id's pair for observation. It reports false, without error,
// when id is not paired.
func (l *Lobby) Watch(id string) (bool, error) {
	if _, ok := l.registry.Lookup(id); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	pair, ok := l.queue.Watch(id)
	if !ok {
		return false, nil
	}
	l.operatorAction("watch", id, "", pair.ID, time.Time{})
	log.Printf("[lobby] operator watch pair=%s (%s, %s)", pair.ID, pair.A, pair.B)
	return true, nil
}

func (l *Lobby) operatorAction(action, connID, address, reason string, until time.Time) {
	metrics.ConsequencesTotal.WithLabelValues(action, moderation.SourceOperator).Inc()
	ev := moderation.ActionEvent{
		Action:  action,
		Source:  moderation.SourceOperator,
		ConnID:  connID,
		Address: address,
		Reason:  reason,
		Ts:      l.now().UnixMilli(),
	}
	if !until.IsZero() {
		ev.Until = until.UnixMilli()
	}
	l.observer.Action(ev)
}
