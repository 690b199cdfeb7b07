package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/pairing/internal/protocol"
)

// pipeConn returns a Connection whose frames can be read from the client end.
func pipeConn(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return newConnection("c1", "10.0.0.1", server, time.Second, 4), client
}

// firstReply dispatches in the background and returns the first frame sent.
func firstReply(t *testing.T, client net.Conn, dispatch func()) map[string]interface{} {
	t.Helper()
	go dispatch()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(client)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return out
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher()
	got := make(chan interface{}, 1)
	var gotType string
	d.Register(func(_ *Connection, msgType string, msg interface{}) {
		gotType = msgType
		got <- msg
	}, protocol.TypeMessage, protocol.TypeSkip)

	c, _ := pipeConn(t)
	d.Dispatch(c, []byte(`{"type":"message","text":"hi"}`))

	select {
	case msg := <-got:
		chat, ok := msg.(protocol.ChatMsg)
		if !ok || chat.Text != "hi" || gotType != protocol.TypeMessage {
			t.Fatalf("handler got %s %#v", gotType, msg)
		}
	default:
		t.Fatal("handler not called")
	}
}

func TestDispatch_PingAnsweredWithPong(t *testing.T) {
	d := NewMessageDispatcher()
	c, client := pipeConn(t)
	before := c.LastSeen()
	time.Sleep(time.Millisecond)

	frame := firstReply(t, client, func() { d.Dispatch(c, []byte(`{"type":"ping"}`)) })
	if frame["type"] != protocol.TypePong {
		t.Fatalf("type = %v, want pong", frame["type"])
	}
	if !c.LastSeen().After(before) {
		t.Error("keepalive not recorded")
	}
}

func TestDispatch_UnsupportedType(t *testing.T) {
	d := NewMessageDispatcher()
	c, client := pipeConn(t)

	frame := firstReply(t, client, func() { d.Dispatch(c, []byte(`{"type":"skip"}`)) })
	if frame["type"] != protocol.TypeError || frame["code"] != "unsupported_type" {
		t.Fatalf("frame = %v, want unsupported_type error", frame)
	}
}

func TestDispatch_ParseError(t *testing.T) {
	d := NewMessageDispatcher()
	c, client := pipeConn(t)

	frame := firstReply(t, client, func() { d.Dispatch(c, []byte(`not json`)) })
	if frame["code"] != "parse_error" {
		t.Fatalf("frame = %v, want parse_error", frame)
	}
}
