//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll watches connection sockets for read readiness so that idle clients
// cost no goroutine. It is level-triggered; the server drops duplicate
// notifications for a connection that is already being read.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]*Connection
	events []unix.EpollEvent // reused by Wait, which has a single caller
}

// NewEpoll creates a new epoll instance using epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFd:   make(map[int]*Connection),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add starts watching c.
func (e *Epoll) Add(c *Connection) error {
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, c.Fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(c.Fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFd[c.Fd] = c
	e.mu.Unlock()
	return nil
}

// Remove stops watching c. The bookkeeping entry is dropped even when the
// kernel has already forgotten a closed descriptor.
func (e *Epoll) Remove(c *Connection) error {
	e.mu.Lock()
	if cur, ok := e.byFd[c.Fd]; ok && cur == c {
		delete(e.byFd, c.Fd)
	}
	e.mu.Unlock()
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, c.Fd, nil)
}

// Wait blocks until at least one watched connection is readable and returns
// the ready connections.
func (e *Epoll) Wait() ([]*Connection, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	ready := make([]*Connection, 0, n)
	for i := 0; i < n; i++ {
		if c, ok := e.byFd[int(e.events[i].Fd)]; ok {
			ready = append(ready, c)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Close closes the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFd = nil
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD returns conn's descriptor without duplicating it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) { fd = int(sfd) })
	return fd
}

// isEINTR reports whether err is an interrupted epoll_wait, which is retried.
func isEINTR(err error) bool {
	return err == unix.EINTR
}
