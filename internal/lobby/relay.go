package lobby

import (
	"encoding/json"
	"log"
	"time"

	"github.com/whisper/pairing/internal/abuse"
	"github.com/whisper/pairing/internal/ban"
	"github.com/whisper/pairing/internal/chat"
	"github.com/whisper/pairing/internal/metrics"
	"github.com/whisper/pairing/internal/moderation"
	"github.com/whisper/pairing/internal/protocol"
	"github.com/whisper/pairing/internal/session"
)

// Notices sent to the offending connection.
const (
	noticeTooFast   = "You are sending messages too fast. Slow down."
	noticeProfanity = "Your message contains prohibited language and was not delivered."
	noticeSpam      = "Your message looks like spam and was not delivered."
	noticeWarning   = "Warning: further violations will get you disconnected."
	noticeReported  = "Thanks, your report was received."

	reasonAbuse = "abuse"
)

// HandleMessage routes a parsed client message from id. Events from unknown or
// closing participants are dropped.
func (l *Lobby) HandleMessage(id, msgType string, msg interface{}) {
	p, ok := l.registry.Lookup(id)
	if !ok || p.Closing {
		return
	}

	switch m := msg.(type) {
	case protocol.ChatMsg:
		l.handleChat(p, m.Text)
	case protocol.SignalMsg:
		l.relaySignal(p, msgType, m.Data)
	case protocol.SkipMsg:
		l.Skip(id)
	case protocol.ReportMsg:
		l.handleReport(p, m.Reason)
	default:
		log.Printf("[lobby] unhandled message type=%s conn=%s", msgType, id)
	}
}

// handleChat gates one chat message: validation, then the spam interval,
// then the content filter. Only a message passing all three reaches the
// partner.
func (l *Lobby) handleChat(p *session.Participant, text string) {
	start := time.Now()
	defer func() { metrics.MessageLatency.Observe(time.Since(start).Seconds()) }()

	pair, ok := l.queue.PairOf(p.ID)
	if !ok {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return
	}

	if err := chat.ValidateMessage(text); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		l.send(p.ID, protocol.TypeError, protocol.ErrorMsg{Code: "invalid_message", Message: err.Error()})
		return
	}

	now := l.now()
	prev := p.LastMessageAt
	p.LastMessageAt = now
	if !prev.IsZero() && now.Sub(prev) < l.cfg.SpamInterval {
		l.reject(p, abuse.KindSpam, noticeTooFast)
		return
	}

	if res := l.filter.Check(text); res.Blocked {
		if res.Profanity() {
			l.reject(p, abuse.KindProfanity, noticeProfanity)
		} else {
			l.reject(p, abuse.KindSpam, noticeSpam)
		}
		return
	}

	partner := pair.Other(p.ID)
	l.send(partner, protocol.TypeMessage, protocol.ServerChatMsg{From: p.Alias, Text: text})
	l.abuse.Clean(p.Address)
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	if pair.Watched {
		l.observer.Watched(moderation.WatchedMessage{
			PairID: pair.ID,
			From:   p.ID,
			Alias:  p.Alias,
			Text:   text,
			Ts:     now.UnixMilli(),
		})
	}
}

// relaySignal forwards an opaque signaling payload to the partner.
func (l *Lobby) relaySignal(p *session.Participant, msgType string, data json.RawMessage) {
	partner, ok := l.queue.Partner(p.ID)
	if !ok {
		return
	}
	l.send(partner, msgType, protocol.ServerSignalMsg{Data: data})
	metrics.SignalsTotal.WithLabelValues(msgType).Inc()
}

// handleReport penalises the reporter's current partner.
func (l *Lobby) handleReport(reporter *session.Participant, reason string) {
	partnerID, ok := l.queue.Partner(reporter.ID)
	if !ok {
		return
	}
	target, ok := l.registry.Lookup(partnerID)
	if !ok {
		return
	}

	l.send(reporter.ID, protocol.TypeSystem, protocol.SystemMsg{Text: noticeReported})
	log.Printf("[lobby] report from conn=%s against conn=%s address=%s reason=%q",
		reporter.ID, target.ID, target.Address, reason)

	target.Strikes++
	metrics.ViolationsTotal.WithLabelValues(string(abuse.KindReport)).Inc()
	l.enforce(target, l.abuse.Report(target.Address))
}

// reject drops a message, tells the sender why and scores the violation.
func (l *Lobby) reject(p *session.Participant, kind abuse.Kind, notice string) {
	p.Strikes++
	metrics.MessagesTotal.WithLabelValues(string(kind)).Inc()
	metrics.ViolationsTotal.WithLabelValues(string(kind)).Inc()

	l.send(p.ID, protocol.TypeSystem, protocol.SystemMsg{Text: notice})
	l.enforce(p, l.abuse.Violation(p.Address, kind))
}

// enforce applies the consequence selected by a verdict to p.
func (l *Lobby) enforce(p *session.Participant, v abuse.Verdict) {
	if v.Action == abuse.ActionNone {
		return
	}
	metrics.ConsequencesTotal.WithLabelValues(v.Action.String(), moderation.SourceAuto).Inc()

	ev := moderation.ActionEvent{
		Action:  v.Action.String(),
		Source:  moderation.SourceAuto,
		ConnID:  p.ID,
		Address: p.Address,
		Reason:  string(v.Kind),
		Score:   v.Score,
		Ts:      l.now().UnixMilli(),
	}

	switch v.Action {
	case abuse.ActionWarn:
		l.send(p.ID, protocol.TypeSystem, protocol.SystemMsg{Text: noticeWarning})

	case abuse.ActionKick:
		l.kick(p, reasonAbuse)

	case abuse.ActionBan:
		rec := l.writeBan(p.Address, v.BanFor, reasonAbuse)
		ev.Until = rec.Until.UnixMilli()
		l.banAndEvict(p, rec)
		log.Printf("[lobby] auto-ban address=%s conn=%s for %s", p.Address, p.ID, v.BanFor)
	}

	l.observer.Action(ev)
}

// writeBan records a ban. When the store fails the returned record is still
// usable for the client notice; the connection is evicted either way.
func (l *Lobby) writeBan(address string, d time.Duration, reason string) ban.Record {
	ctx, cancel := l.storeContext()
	defer cancel()

	rec, err := l.bans.Ban(ctx, address, d, reason)
	if err != nil {
		log.Printf("[lobby] write ban for %s: %v", address, err)
		return ban.Record{Address: address, Reason: reason, Until: l.now().Add(d)}
	}
	return rec
}
