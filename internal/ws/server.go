// Package ws is the WebSocket transport: it upgrades HTTP requests, watches
// sockets with epoll, reads frames on a bounded worker pool and hands
// complete text messages to the application. Connections are identified by a
// server-generated id; the application addresses them by that id only.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/pairing/internal/metrics"
	"github.com/whisper/pairing/internal/ratelimit"
)

// ErrUnknownConnection is returned when sending to an id that is not
// connected.
var ErrUnknownConnection = errors.New("ws: unknown connection")

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	WorkerPoolSize    int           // max concurrent read-worker goroutines
	MaxConnections    int           // hard cap on total connections
	ReadTimeout       time.Duration // bound on reading one frame once data is ready
	WriteTimeout      time.Duration // bound on writing one frame
	SendQueueSize     int           // queued outbound frames per connection before it is dropped
	MaxFrameBytes     int64         // larger data frames close the connection
	HeartbeatInterval time.Duration // ping period; zero disables the heartbeat
	HeartbeatTimeout  time.Duration // grace after a missed ping
	TrustProxy        bool          // take the client address from X-Forwarded-For
	ConnectRule       ratelimit.Rule
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
// Frames are capped well above the chat limit to leave room for SDP offers.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		WorkerPoolSize:    256,
		MaxConnections:    100000,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendQueueSize:     256,
		MaxFrameBytes:     64 << 10,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		TrustProxy:        true,
		ConnectRule:       ratelimit.RuleConnect,
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. Idle
// connections are parked in epoll; ready ones are read by a bounded pool of
// worker goroutines.
type Server struct {
	config     ServerConfig
	epoll      *Epoll
	conns      *ConnectionManager
	limiter    ratelimit.Limiter       // per-address connect throttle, optional
	workerPool chan struct{}           // semaphore limiting concurrent read workers
	handlers   map[string]http.Handler // extra routes mounted next to /ws
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time

	onConnect    func(conn *Connection)
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
}

// NewServer creates a Server. onMessage is called from a worker goroutine
// for every complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		handlers:   make(map[string]http.Handler),
		done:       make(chan struct{}),
		onMessage:  onMessage,
	}
}

// SetLimiter installs the per-address connect limiter. A nil limiter admits
// every connection that fits under MaxConnections.
func (s *Server) SetLimiter(l ratelimit.Limiter) {
	s.limiter = l
}

// SetOnConnect registers a callback invoked after a connection is upgraded
// and before any of its frames are read. No frame or disconnect for the
// connection reaches the application before it returns.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked exactly once per removed
// connection, whatever the cause.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Handle mounts an extra HTTP handler on the server's mux. It must be called
// before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.handlers[pattern] = h
}

// Start creates the poller, starts the read loop and the heartbeat, and serves
// HTTP until Shutdown.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	for pattern, h := range s.handlers {
		mux.Handle(pattern, h)
	}
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.readLoop()
	go s.heartbeat()

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade admits a client. Requests over the connection cap or the
// per-address rate are refused before the upgrade.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		metrics.ConnectRejectedTotal.WithLabelValues("capacity").Inc()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	addr := clientAddr(r, s.config.TrustProxy)
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), addr, s.config.ConnectRule)
		if err != nil {
			log.Printf("ws: connect limiter error for %s: %v", addr, err)
		}
		if !allowed {
			metrics.ConnectRejectedTotal.WithLabelValues("rate_limited").Inc()
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for %s: %v", addr, err)
		return
	}

	c := newConnection(uuid.NewString(), addr, netConn, s.config.WriteTimeout, s.config.SendQueueSize)
	s.track(c)
	log.Printf("ws: new connection conn=%s addr=%s fd=%d (total=%d)", c.ID, addr, c.Fd, s.conns.Count())

	if s.onConnect != nil {
		s.onConnect(c)
	}

	if err := s.epoll.Add(c); err != nil {
		log.Printf("ws: epoll add failed for conn %s: %v", c.ID, err)
		s.removeConnection(c, "read_error")
	}
}

// track registers c and starts its writer.
func (s *Server) track(c *Connection) {
	s.conns.Add(c)
	go s.writeLoop(c)
}

// writeLoop drains c's outbound queue until c is closed. A failed write or a
// queued close request removes the connection.
func (s *Server) writeLoop(c *Connection) {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.out:
			if data == nil {
				s.removeConnection(c, "closed")
				return
			}
			if err := c.WriteMessage(data); err != nil {
				log.Printf("ws: write failed conn=%s: %v", c.ID, err)
				s.removeConnection(c, "write_error")
				return
			}
		}
	}
}

// handleHealth reports liveness for load balancer health checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readLoop hands every ready connection to a worker.
func (s *Server) readLoop() {
	for {
		ready, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !isEINTR(err) {
				log.Printf("ws: epoll wait error: %v", err)
			}
			continue
		}

		for _, c := range ready {
			c := c
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(c)
			}()
		}
	}
}

// readFrame reads one frame from a ready connection. Pings are answered and
// pongs only count as activity. Close frames and read errors remove the
// connection, as do data frames over MaxFrameBytes.
func (s *Server) readFrame(c *Connection) {
	if !c.reading.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		c.reading.Store(false)
		c.readFinished()
	}()

	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	header, reader, err := wsutil.NextReader(c.in, ws.StateServerSide)
	if err != nil {
		// A stale level-triggered wakeup times out with nothing to read;
		// dead peers are left to the heartbeat.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.removeConnection(c, "read_error")
		return
	}
	_ = c.Conn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		payload, _ := io.ReadAll(reader)
		switch header.OpCode {
		case ws.OpClose:
			s.removeConnection(c, "close_frame")
		case ws.OpPing:
			_ = c.write(func(w io.Writer) error {
				return ws.WriteFrame(w, ws.NewPongFrame(payload))
			})
		}
		return
	}

	if s.config.MaxFrameBytes > 0 && header.Length > s.config.MaxFrameBytes {
		log.Printf("ws: frame of %d bytes from conn=%s exceeds limit", header.Length, c.ID)
		s.removeConnection(c, "oversize")
		return
	}

	data := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		s.removeConnection(c, "read_error")
		return
	}
	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// removeConnection unregisters and closes c and tells the application. Racing
// callers are safe; only the first one has any effect.
func (s *Server) removeConnection(c *Connection, reason string) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	log.Printf("ws: connection closed conn=%s reason=%s (total=%d)", c.ID, reason, s.conns.Count())
}

// SendMessage queues a text frame for the connection with the given id and
// returns without waiting for the peer. A connection whose queue is full is
// not keeping up and is removed.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if err := c.Enqueue(data); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			log.Printf("ws: send queue full conn=%s, dropping connection", connID)
			go s.removeConnection(c, "slow_consumer")
		}
		return fmt.Errorf("ws: send to %s: %w", connID, err)
	}
	return nil
}

// CloseConnection closes the connection with the given id after the frames
// already queued for it are written. It never blocks and never re-enters
// through onDisconnect on the caller's goroutine. Unknown ids are ignored.
func (s *Server) CloseConnection(connID string) error {
	c := s.conns.Get(connID)
	if c == nil {
		return nil
	}
	if err := c.Enqueue(nil); err != nil {
		go s.removeConnection(c, "closed")
	}
	return nil
}

// Shutdown stops accepting connections, closes every live connection
// (reporting each through onDisconnect) and releases the poller.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.removeConnection(c, "shutdown")
	}
	if s.epoll != nil {
		if err := s.epoll.Close(); err != nil {
			return fmt.Errorf("ws: close epoll: %w", err)
		}
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
