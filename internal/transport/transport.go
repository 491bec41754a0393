// Package transport defines the carrier-facing boundary the core talks
// across: a named external collaborator per spec (HTTP, WebSocket, or
// anything else that can move JSON envelopes), represented here by a
// narrow Carrier interface plus a Binding — the shared, refcounted handle
// a Session keeps on "who to reply to". Grounded on the teacher's
// mediaclient.Transport interface (session-scoped verbs behind a narrow
// interface, `Ready`/`Close` lifecycle) generalized from an RPC-shaped
// media-plane client to the spec's client-facing transport contract (§6).
package transport

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/gatewaycore/core/internal/core/refcount"
)

// ErrGone is returned by Binding.Send once the carrier has reported the
// underlying transport-session gone.
var ErrGone = errors.New("transport binding is gone")

// Carrier is the interface every transport module implements: the minimal
// surface the core needs to push a reply or event, and to be told sessions
// came and went. Modeled on spec.md §6's transport interface
// (`send_message`, `session_created`, `session_over`, the API-enablement
// probes); `create`/`destroy` lifecycle is left to each carrier's own
// constructor, as it carries no core-visible state.
type Carrier interface {
	PackageString() string
	SendMessage(b *Binding, requestID any, admin bool, payload []byte) error
	SessionCreated(b *Binding, sessionID uint64)
	SessionOver(b *Binding, sessionID uint64, forced bool)
	IsJanusAPIEnabled() bool
	IsAdminAPIEnabled() bool
}

// Binding is the shared (transport module, opaque transport-session,
// reply-channel) triple a Session's registry entry, and every in-flight
// Request naming that session, hold a reference to. The transport module
// marks it terminal by calling MarkGone; nothing un-gones it.
type Binding struct {
	refcount.Counted

	Carrier Carrier
	Opaque  any // the carrier's own opaque transport-session reference

	gone atomic.Bool
}

// NewBinding wraps a carrier + its opaque transport-session handle. The
// refcount starts at zero; every owner, the first one included, takes its
// reference with Hold.
func NewBinding(c Carrier, opaque any) *Binding {
	return &Binding{Carrier: c, Opaque: opaque}
}

// MarkGone flips the binding terminal at most once, reporting whether this
// call was the one that did it.
func (b *Binding) MarkGone() bool {
	return b.gone.CompareAndSwap(false, true)
}

// Gone reports whether the transport has reported this binding terminal.
func (b *Binding) Gone() bool {
	return b.gone.Load()
}

// Send marshals v and hands it to the carrier, unless the binding is
// already gone.
func (b *Binding) Send(requestID any, admin bool, v any) error {
	if b.Gone() {
		return ErrGone
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Carrier.SendMessage(b, requestID, admin, payload)
}
