package main

import (
	"github.com/whisper/pairing/internal/lobby"
	"github.com/whisper/pairing/internal/protocol"
	"github.com/whisper/pairing/internal/ws"
)

// clientTypes are the client messages forwarded to the lobby. Ping is
// answered by the dispatcher itself.
var clientTypes = []string{
	protocol.TypeMessage,
	protocol.TypeOffer,
	protocol.TypeAnswer,
	protocol.TypeICECandidate,
	protocol.TypeSkip,
	protocol.TypeReport,
}

// registerHandlers routes every client message type onto the hub's event
// loop.
func registerHandlers(d *ws.MessageDispatcher, hub *lobby.Hub) {
	d.Register(func(conn *ws.Connection, msgType string, msg interface{}) {
		hub.Message(conn.ID, msgType, msg)
	}, clientTypes...)
}

// hubTransport adapts the WebSocket server to the lobby's Transport.
type hubTransport struct {
	server *ws.Server
}

func (t hubTransport) Send(id string, data []byte) error {
	return t.server.SendMessage(id, data)
}

func (t hubTransport) Close(id string) error {
	return t.server.CloseConnection(id)
}
