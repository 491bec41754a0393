// Package request implements the Request object (spec.md §3): an
// immutable snapshot of one inbound message plus its reply channel,
// refcounted jointly with the transport binding, session, and handle it
// names. Grounded on the teacher's Dialog construction pattern — build
// once from the inbound message, never mutate afterward, and Hold/Release
// the entities it touches for its own lifetime.
package request

import (
	"encoding/json"

	"github.com/gatewaycore/core/internal/core/refcount"
	"github.com/gatewaycore/core/internal/transport"
)

// Request is immutable from construction onward: transport binding,
// opaque request id, admin flag, and the decoded JSON root.
type Request struct {
	refcount.Counted

	Binding   *transport.Binding
	ID        any // opaque request/transaction id, echoed back verbatim
	Admin     bool
	Root      map[string]json.RawMessage
	SessionID uint64 // 0 when the envelope named no session
	HandleID  uint64 // 0 when the envelope named no handle

	onDone func()
}

// New builds a Request, holding the transport binding for the Request's
// own lifetime. onDone, if non-nil, runs exactly once when Destroy is
// called — session/handle reference releases hang off it.
func New(binding *transport.Binding, id any, admin bool, root map[string]json.RawMessage, sessionID, handleID uint64, onDone func()) *Request {
	if binding != nil {
		binding.Hold()
	}
	return &Request{
		Binding:   binding,
		ID:        id,
		Admin:     admin,
		Root:      root,
		SessionID: sessionID,
		HandleID:  handleID,
		onDone:    onDone,
	}
}

// String returns the named JSON string field, or "" if absent or not a
// string.
func (r *Request) String(field string) string {
	raw, ok := r.Root[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Has reports whether field is present in the decoded root.
func (r *Request) Has(field string) bool {
	_, ok := r.Root[field]
	return ok
}

// Destroy runs the onDone callback (if any) exactly once and releases the
// transport binding's reference. Safe to call more than once; only the
// first call has effect.
func (r *Request) Destroy() {
	if !r.BeginDestroy() {
		return
	}
	if r.onDone != nil {
		r.onDone()
	}
	if r.Binding != nil {
		r.Binding.Release()
	}
}

// Reply marshals v and writes it back through the Request's transport
// binding, tagged with this Request's own id.
func (r *Request) Reply(v any) error {
	if r.Binding == nil {
		return nil
	}
	return r.Binding.Send(r.ID, r.Admin, v)
}
