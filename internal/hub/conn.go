package hub

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Socket is the transport under a connection. Reads happen on one goroutine
// and writes on another.
type Socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Ping() error
	Close() error
}

type messageKind int

const (
	msgInbound messageKind = iota
	msgOutbound
	msgReadFailed
)

// message is the tagged variant consumed by a connection's loop.
type message struct {
	kind     messageKind
	inbound  Inbound
	outbound Outbound
	err      error
}

// Conn is one live socket of one user.
type Conn struct {
	id     uint64
	userID string
	socket Socket
	state  atomic.Int32
	queue  chan message

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id uint64, socket Socket, buffer int) *Conn {
	return &Conn{
		id:     id,
		socket: socket,
		queue:  make(chan message, buffer),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// UserID returns the authenticated user, empty before the handshake.
func (c *Conn) UserID() string {
	return c.userID
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// enqueue hands a message to the consumer loop without blocking. It reports
// false when the connection is closed or its queue is full.
func (c *Conn) enqueue(m message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- m:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		_ = c.socket.Close()
	})
}
