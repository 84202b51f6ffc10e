package relay

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnState is the liveness of a relay connection.
type ConnState int32

const (
	StateActive ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is the relay's handle for one participant. Outbound frames go
// through a bounded queue drained by a single writer; a full queue drops the
// frame for this connection only.
type Connection struct {
	ID string

	// participantID and roomID are written only while the registry lock is held.
	mu            sync.RWMutex
	participantID string
	roomID        string

	state  atomic.Int32
	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	kick     chan struct{}
	kickOnce sync.Once
}

// NewConnection returns an active connection with an outbound queue of queueSize frames.
func NewConnection(queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Connection{
		ID:     uuid.NewString(),
		outbox: make(chan []byte, queueSize),
		done:   make(chan struct{}),
		kick:   make(chan struct{}),
	}
}

func (c *Connection) ParticipantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participantID
}

// RoomID returns the room the connection is in, or "".
func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Writable reports whether frames may still be queued.
func (c *Connection) Writable() bool {
	return c.State() == StateActive
}

// Enqueue queues a frame without blocking. It returns false if the
// connection is not active or the queue is full.
func (c *Connection) Enqueue(frame []byte) bool {
	if !c.Writable() {
		return false
	}
	select {
	case c.outbox <- frame:
		return true
	default:
		return false
	}
}

// Outbox is drained by the connection's write pump.
func (c *Connection) Outbox() <-chan []byte {
	return c.outbox
}

// BeginClose moves active -> closing. Only the first caller gets true, so
// teardown side effects run once.
func (c *Connection) BeginClose() bool {
	return c.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
}

// MarkClosed finishes teardown and releases the write pump.
func (c *Connection) MarkClosed() {
	c.state.Store(int32(StateClosed))
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the connection is fully closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// RequestClose asks the write pump to close the transport. Teardown then
// follows the normal read-error path.
func (c *Connection) RequestClose() {
	c.kickOnce.Do(func() { close(c.kick) })
}

func (c *Connection) closeRequested() <-chan struct{} {
	return c.kick
}
