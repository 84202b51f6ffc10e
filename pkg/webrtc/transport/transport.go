// Package transport carries signaling messages between participants, over
// the relay when it is reachable and over a shared polled store otherwise.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/AmoolyaSuneja/ChatMe/pkg/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// Kind names a transport implementation.
type Kind string

const (
	KindRelay   Kind = "relay"
	KindStorage Kind = "storage"
)

// Handler receives inbound messages. Handlers are called from a single
// goroutine per transport and must not block for long.
type Handler func(*protocol.Message)

// Transport is the uniform signaling channel used by the negotiation state
// machine.
type Transport interface {
	Send(ctx context.Context, msg *protocol.Message) error
	OnMessage(h Handler)
	Close() error
	Kind() Kind
	// AnnouncesJoin reports whether the far side tells the room we joined.
	// When false the client writes its own user-joined record.
	AnnouncesJoin() bool
}

// dispatcher holds the handler and queues messages that arrive before one
// is registered.
type dispatcher struct {
	mu      sync.Mutex
	handler Handler
	backlog []*protocol.Message
}

func (d *dispatcher) set(h Handler) {
	d.mu.Lock()
	d.handler = h
	pending := d.backlog
	d.backlog = nil
	d.mu.Unlock()

	for _, m := range pending {
		h(m)
	}
}

func (d *dispatcher) dispatch(m *protocol.Message) {
	d.mu.Lock()
	h := d.handler
	if h == nil {
		d.backlog = append(d.backlog, m)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	h(m)
}
