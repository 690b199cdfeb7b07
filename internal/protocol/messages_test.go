package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  interface{}
	}{
		{"chat", `{"type":"message","text":"Hello!"}`, ChatMsg{Type: TypeMessage, Text: "Hello!"}},
		{"skip", `{"type":"skip"}`, SkipMsg{Type: TypeSkip}},
		{"report with reason", `{"type":"report","reason":"spam"}`, ReportMsg{Type: TypeReport, Reason: "spam"}},
		{"report without reason", `{"type":"report"}`, ReportMsg{Type: TypeReport}},
		{"ping", `{"type":"ping"}`, PingMsg{Type: TypePing}},
		{"unknown fields ignored", `{"type":"message","text":"x","extra":1}`, ChatMsg{Type: TypeMessage, Text: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)

			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.input), &env))
			assert.Equal(t, env.Type, msgType)
		})
	}
}

func TestParseClientMessage_SignalsKeepRawData(t *testing.T) {
	payloads := map[string]string{
		TypeOffer:        `{"sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1","type":"offer"}`,
		TypeAnswer:       `{"sdp":"v=0","type":"answer"}`,
		TypeICECandidate: `{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}`,
	}

	for typ, data := range payloads {
		msgType, msg, err := ParseClientMessage([]byte(`{"type":"` + typ + `","data":` + data + `}`))
		require.NoError(t, err, typ)
		assert.Equal(t, typ, msgType)

		sig, ok := msg.(SignalMsg)
		require.True(t, ok, "%s parsed as %T", typ, msg)
		assert.Equal(t, data, string(sig.Data), "payload of %s must be byte-identical", typ)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
	}{
		{"invalid json", `{invalid json}`, ""},
		{"missing type", `{"data":"no type field"}`, ""},
		{"empty type", `{"type":""}`, ""},
		{"unknown type", `{"type":"unknown_type"}`, "unknown_type"},
		{"server-only type", `{"type":"forceBan","until":1}`, TypeForceBan},
		{"wrong field type", `{"type":"message","text":42}`, TypeMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tt.input))
			assert.Error(t, err)
			assert.Nil(t, msg)
			assert.Equal(t, tt.wantType, msgType)
		})
	}
}

func TestIsSignal(t *testing.T) {
	for _, typ := range []string{TypeOffer, TypeAnswer, TypeICECandidate} {
		assert.True(t, IsSignal(typ), typ)
	}
	for _, typ := range []string{TypeMessage, TypeSkip, TypeReport, TypePing, ""} {
		assert.False(t, IsSignal(typ), typ)
	}
}

func TestNewServerMessage(t *testing.T) {
	raw := json.RawMessage(`{"candidate":"c","sdpMid":"0"}`)

	tests := []struct {
		name    string
		msgType string
		payload interface{}
		want    string
	}{
		{"empty payload", TypeWaiting, WaitingMsg{}, `{"type":"waiting"}`},
		{"matched", TypeMatched, MatchedMsg{Initiator: true}, `{"type":"matched","initiator":true}`},
		{"chat", TypeMessage, ServerChatMsg{From: "Stranger#1234", Text: "hi"}, `{"type":"message","from":"Stranger#1234","text":"hi"}`},
		{"signal verbatim", TypeICECandidate, ServerSignalMsg{Data: raw}, `{"type":"ice-candidate","data":` + string(raw) + `}`},
		{"ban", TypeForceBan, ForceBanMsg{Until: 1700000000000, Reason: "abuse"}, `{"type":"forceBan","until":1700000000000,"reason":"abuse"}`},
		{"kick without reason", TypeForceKick, ForceKickMsg{}, `{"type":"forceKick"}`},
		{"online count", TypeOnlineCount, OnlineCountMsg{Count: 3}, `{"type":"onlineCount","count":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := NewServerMessage(tt.msgType, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestNewServerMessage_RejectsNonObject(t *testing.T) {
	for _, payload := range []interface{}{"plain string", 42, []int{1}, nil} {
		_, err := NewServerMessage(TypeSystem, payload)
		assert.Error(t, err, "payload %#v", payload)
	}
}
