package ws

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Send errors.
var (
	ErrSendQueueFull    = errors.New("ws: send queue full")
	ErrConnectionClosed = errors.New("ws: connection closed")
)

// Connection is one upgraded WebSocket client. Application frames go through
// a bounded outbound queue drained by the connection's writer goroutine, so
// queueing never waits on the peer. Writes are serialized by a mutex and
// bounded by the server's write timeout.
type Connection struct {
	ID        string   // connection ID (UUID)
	Addr      string   // client network address used for bans and rate limits
	Conn      net.Conn // underlying TCP connection
	Fd        int      // file descriptor for epoll lookups, -1 without epoll
	CreatedAt time.Time

	in           io.Reader     // frame source; buffered by the fallback poller
	readDone     chan struct{} // fallback poller waits on this between frames
	lastSeen     atomic.Int64  // unix nanos of the last frame or keepalive
	reading      atomic.Bool   // guards against duplicate level-triggered dispatch
	writeMu      sync.Mutex
	writeTimeout time.Duration

	out       chan []byte   // queued text frames; nil asks the writer to close
	closed    chan struct{} // closed by Close
	closeOnce sync.Once
	closeErr  error
}

func newConnection(id, addr string, conn net.Conn, writeTimeout time.Duration, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	c := &Connection{
		ID:           id,
		Addr:         addr,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		in:           conn,
		readDone:     make(chan struct{}, 1),
		writeTimeout: writeTimeout,
		out:          make(chan []byte, queueSize),
		closed:       make(chan struct{}),
	}
	c.Touch()
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the time of the last recorded activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Enqueue queues a text frame for the writer goroutine without blocking. A
// nil frame asks the writer to close the connection once everything queued
// before it is written.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// WriteMessage writes a WebSocket text frame directly, bypassing the queue.
func (c *Connection) WriteMessage(data []byte) error {
	return c.write(func(w io.Writer) error {
		return wsutil.WriteServerMessage(w, ws.OpText, data)
	})
}

// WritePing sends a protocol-level ping frame, which browsers answer with a
// pong automatically.
func (c *Connection) WritePing() error {
	return c.write(func(w io.Writer) error {
		return ws.WriteFrame(w, ws.NewPingFrame(nil))
	})
}

func (c *Connection) write(fn func(w io.Writer) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return fn(c.Conn)
}

// Close closes the underlying network connection and stops the writer. It is
// safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// readFinished releases the fallback poller after one read attempt.
func (c *Connection) readFinished() {
	select {
	case c.readDone <- struct{}{}:
	default:
	}
}

// ConnectionManager is a thread-safe registry of live connections by id.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{byID: make(map[string]*Connection)}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection with the given id and closes it. Only the
// first of several racing callers gets true.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	delete(cm.byID, id)
	cm.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
