//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// Epoll is the portable stand-in for the Linux poller: one goroutine per
// connection peeks its buffered reader and reports readiness. Peeking leaves
// the bytes in place, so the server reads whole frames from Connection.in.
type Epoll struct {
	mu      sync.Mutex
	watched map[*Connection]struct{}
	ready   chan *Connection
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		watched: make(map[*Connection]struct{}),
		ready:   make(chan *Connection, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching c. It must be called before any frame of c is read.
func (e *Epoll) Add(c *Connection) error {
	br := bufio.NewReader(c.Conn)
	c.in = br

	e.mu.Lock()
	e.watched[c] = struct{}{}
	e.mu.Unlock()

	go e.watch(c, br)
	return nil
}

// watch reports c ready whenever buffered or socket data is available, then
// waits for the server to finish reading before peeking again.
func (e *Epoll) watch(c *Connection, br *bufio.Reader) {
	for {
		_, err := br.Peek(1)

		select {
		case e.ready <- c:
		case <-e.done:
			return
		}
		if err != nil {
			// The server's read hits the same error and removes c.
			return
		}

		select {
		case <-c.readDone:
		case <-e.done:
			return
		}
		if !e.isWatched(c) {
			return
		}
	}
}

func (e *Epoll) isWatched(c *Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.watched[c]
	return ok
}

// Remove stops watching c. Its goroutine exits once the socket is closed.
func (e *Epoll) Remove(c *Connection) error {
	e.mu.Lock()
	delete(e.watched, c)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]*Connection, error) {
	var first *Connection
	select {
	case first = <-e.ready:
	case <-e.done:
		return nil, net.ErrClosed
	}

	ready := []*Connection{first}
	for {
		select {
		case c := <-e.ready:
			ready = append(ready, c)
		default:
			return ready, nil
		}
	}
}

// Close stops every watcher.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	return nil
}

// socketFD is unused by the fallback poller.
func socketFD(net.Conn) int {
	return -1
}

func isEINTR(error) bool {
	return false
}
