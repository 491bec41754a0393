// Package loopback is an in-process transport.Carrier: no sockets, every
// reply is pushed onto a per-binding buffered channel instead of written
// to a wire. Grounded on events.ChannelPublisher's
// buffered-channel-with-drop-count shape (internal/core/events), adapted
// from "publish an event for a consumer to read" to "deliver a reply for
// a test to assert on". Used by integration-style tests driving the
// dispatcher end-to-end without a real httpws listener.
package loopback

import (
	"encoding/json"
	"sync"

	"github.com/gatewaycore/core/internal/core/dispatch"
	"github.com/gatewaycore/core/internal/core/request"
	"github.com/gatewaycore/core/internal/transport"
)

// Carrier is a transport.Carrier whose SendMessage delivers to an
// in-memory outbox per binding rather than a socket. Safe for concurrent
// use by multiple simulated connections.
type Carrier struct {
	bufferSize int

	mu    sync.Mutex
	boxes map[*transport.Binding]*outbox
}

type outbox struct {
	mu      sync.Mutex
	ch      chan []byte
	dropped int64
}

// New builds a loopback Carrier; bufferSize bounds each binding's outbox
// (defaulting to 64, mirroring ChannelPublisher's own fallback).
func New(bufferSize int) *Carrier {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Carrier{bufferSize: bufferSize, boxes: make(map[*transport.Binding]*outbox)}
}

// NewBinding mints a Binding backed by this carrier, pre-holds it on the
// caller's behalf (mirroring httpws's upgrade handler), and registers its
// outbox.
func (c *Carrier) NewBinding() *transport.Binding {
	b := transport.NewBinding(c, nil)
	b.Hold()
	c.mu.Lock()
	c.boxes[b] = &outbox{ch: make(chan []byte, c.bufferSize)}
	c.mu.Unlock()
	return b
}

// Submit builds a request.Request from a decoded JSON envelope and
// enqueues it on disp, the way httpws.dispatchFrame does for a real
// socket frame.
func (c *Carrier) Submit(disp *dispatch.Dispatcher, b *transport.Binding, admin bool, sessionID, handleID uint64, transaction string, root map[string]json.RawMessage) error {
	req := request.New(b, transaction, admin, root, sessionID, handleID, nil)
	if err := disp.Enqueue(req); err != nil {
		req.Destroy()
		return err
	}
	return nil
}

// Outbox returns the channel replies/events for b arrive on.
func (c *Carrier) Outbox(b *transport.Binding) <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	box, ok := c.boxes[b]
	if !ok {
		return nil
	}
	return box.ch
}

// DroppedCount reports how many sends to b overflowed its outbox.
func (c *Carrier) DroppedCount(b *transport.Binding) int64 {
	c.mu.Lock()
	box, ok := c.boxes[b]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.dropped
}

// Forget releases the outbox for b, e.g. after a test drains it and the
// binding is torn down.
func (c *Carrier) Forget(b *transport.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.boxes, b)
}

// PackageString implements transport.Carrier.
func (c *Carrier) PackageString() string { return "carrier.loopback" }

// SendMessage implements transport.Carrier: drops the already-marshaled
// payload into b's outbox, never blocking the caller — a full outbox silently drops
// and bumps its counter, same as ChannelPublisher's full-buffer policy.
func (c *Carrier) SendMessage(b *transport.Binding, _ any, _ bool, payload []byte) error {
	c.mu.Lock()
	box, ok := c.boxes[b]
	c.mu.Unlock()
	if !ok {
		return transport.ErrGone
	}
	select {
	case box.ch <- payload:
	default:
		box.mu.Lock()
		box.dropped++
		box.mu.Unlock()
	}
	return nil
}

// SessionCreated implements transport.Carrier; loopback has no
// connection-level bookkeeping keyed by session id, so this is a no-op.
func (c *Carrier) SessionCreated(*transport.Binding, uint64) {}

// SessionOver implements transport.Carrier: forgets the binding's outbox.
func (c *Carrier) SessionOver(b *transport.Binding, _ uint64, _ bool) {
	c.Forget(b)
}

// IsJanusAPIEnabled implements transport.Carrier; loopback always serves
// both channels, since it has no notion of disabled endpoints.
func (c *Carrier) IsJanusAPIEnabled() bool { return true }

// IsAdminAPIEnabled implements transport.Carrier.
func (c *Carrier) IsAdminAPIEnabled() bool { return true }
