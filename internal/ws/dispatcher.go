package ws

import (
	"log"

	"github.com/whisper/pairing/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete value
// returned by protocol.ParseClientMessage for msgType.
type MessageHandler func(conn *Connection, msgType string, msg interface{})

// MessageDispatcher parses incoming frames and routes them by type. It answers
// application pings itself and replies with an error message to frames it
// cannot parse or route.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler)}
}

// Register routes the given message types to h, replacing any earlier
// registration. It must not be called concurrently with Dispatch.
func (d *MessageDispatcher) Register(h MessageHandler, msgTypes ...string) {
	for _, t := range msgTypes {
		d.handlers[t] = h
	}
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: "parse_error", Message: "invalid message format"})
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	h, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
		reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: "unsupported_type", Message: "unsupported message type"})
		return
	}
	h(conn, msgType, msg)
}

// reply writes a server message straight to conn. Failures are logged; the
// read path notices a dead connection on its own.
func reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s message conn=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send %s message conn=%s: %v", msgType, conn.ID, err)
	}
}
