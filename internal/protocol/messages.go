// Package protocol is the JSON wire format spoken over the WebSocket. Every
// frame is an object whose "type" field selects the message; the remaining
// fields sit next to it at the top level.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Client message types.
const (
	TypeMessage      = "message"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeSkip         = "skip"
	TypeReport       = "report"
	TypePing         = "ping"
)

// Server message types. TypeMessage and the signaling types are
// shared with the client direction.
const (
	TypeWelcome             = "welcome"
	TypeWaiting             = "waiting"
	TypeMatched             = "matched"
	TypePartnerDisconnected = "partnerDisconnected"
	TypeSystem              = "system"
	TypeForceBan            = "forceBan"
	TypeForceKick           = "forceKick"
	TypeOnlineCount         = "onlineCount"
	TypeError               = "error"
	TypePong                = "pong"
)

// IsSignal reports whether msgType is one of the opaque signaling types that
// are relayed to the partner without inspection.
func IsSignal(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Envelope is the first decoding pass over a client frame: it reads only the
// type discriminator and keeps the frame for the typed decode.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON requires a non-empty "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if head.Type == "" {
		return errors.New(`protocol: frame has no "type"`)
	}
	e.Type = head.Type
	e.Raw = append(e.Raw[:0], data...)
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg is a text message sent by the client to its current partner.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SignalMsg carries an offer, answer or ICE candidate. Data is never decoded
// by the server.
type SignalMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SkipMsg ends the current pairing and asks for a new partner.
type SkipMsg struct {
	Type string `json:"type"`
}

// ReportMsg is sent by the client to report its current partner.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// PingMsg is an application-level keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// WelcomeMsg is sent once the connection is registered.
type WelcomeMsg struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
}

// WaitingMsg tells the client it occupies the waiting slot.
type WaitingMsg struct{}

// MatchedMsg announces a new partner. Exactly one side of a pair receives
// Initiator=true and is expected to create the offer.
type MatchedMsg struct {
	Initiator bool `json:"initiator"`
}

// ServerChatMsg is a text message relayed from the partner.
type ServerChatMsg struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// ServerSignalMsg relays the partner's signaling payload.
type ServerSignalMsg struct {
	Data json.RawMessage `json:"data"`
}

// PartnerDisconnectedMsg is sent to the surviving side of a torn down pair.
type PartnerDisconnectedMsg struct{}

// SystemMsg is a policy notice addressed to a single connection.
type SystemMsg struct {
	Text string `json:"text"`
}

// ForceBanMsg precedes the disconnect of a banned connection. Until is a unix
// timestamp in milliseconds.
type ForceBanMsg struct {
	Until  int64  `json:"until"`
	Reason string `json:"reason,omitempty"`
}

// ForceKickMsg precedes a forced disconnect that carries no ban.
type ForceKickMsg struct {
	Reason string `json:"reason,omitempty"`
}

// OnlineCountMsg is broadcast whenever the number of participants changes.
type OnlineCountMsg struct {
	Count int `json:"count"`
}

// ErrorMsg reports a frame the server could not accept.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers PingMsg.
type PongMsg struct{}

// clientDecoders decodes the full frame of each client message type.
var clientDecoders = map[string]func(raw []byte) (interface{}, error){
	TypeMessage:      decodeAs[ChatMsg],
	TypeOffer:        decodeAs[SignalMsg],
	TypeAnswer:       decodeAs[SignalMsg],
	TypeICECandidate: decodeAs[SignalMsg],
	TypeSkip:         decodeAs[SkipMsg],
	TypeReport:       decodeAs[ReportMsg],
	TypePing:         decodeAs[PingMsg],
}

func decodeAs[T any](raw []byte) (interface{}, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseClientMessage decodes one client frame into its concrete message
// struct. The type is returned whenever the envelope parsed, even if the
// type is unknown or its payload is malformed.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: %w", err)
	}

	decode, ok := clientDecoders[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("protocol: %q is not a client message type", env.Type)
	}
	msg, err := decode(env.Raw)
	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: decode %q: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The payload must encode to a JSON object without its own "type" key; the
// type discriminator is spliced in front of the payload's fields so embedded
// raw payloads reach the client without being re-decoded.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) < 2 || raw[0] != '{' || raw[len(raw)-1] != '}' {
		return nil, fmt.Errorf("protocol: payload for %q is not a JSON object", msgType)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if body := bytes.TrimSpace(raw[1 : len(raw)-1]); len(body) > 0 {
		buf.WriteByte(',')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
