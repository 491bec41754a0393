// Package module defines the contract media application modules implement
// and the registry the core uses to look them up by package string.
// Grounded on the teacher's mediaclient.Transport interface shape (a small
// set of session-scoped verbs behind one interface, with a Ready/Close
// lifecycle) generalized from a single remote media client to an
// in-process, multi-instance plugin table keyed by package string, per
// spec.md §6's module interface.
package module

import (
	"context"

	"github.com/gatewaycore/core/api/wire"
)

// ResultKind tags what handle_message returned, per spec.md §4.5/§6.
type ResultKind int

const (
	// ResultOK carries a synchronous success body.
	ResultOK ResultKind = iota
	// ResultWait means the module will push an asynchronous event later;
	// the core acks the request now.
	ResultWait
	// ResultError carries a human-readable failure.
	ResultError
)

// Result is what handle_message returns.
type Result struct {
	Kind    ResultKind
	Content []byte // JSON body, for ResultOK
	Hint    string // optional text, for ResultWait
	ErrText string // for ResultError
}

// JSEPHints carries the extra fields spec.md §4.5 attaches to an incoming
// offer/answer alongside the stripped body: a simulcast SSRC descriptor
// (offer only, when more than one video line was negotiated) and the
// renegotiation flag. Computed by package negotiation's MessageWithJSEP
// and otherwise unreachable by a module implementation.
type JSEPHints struct {
	Update    bool
	Simulcast *wire.Simulcast
}

// Descriptor is the metadata a module's `create` entry returns.
type Descriptor struct {
	Name           string
	Author         string
	Version        int
	Package        string // stable package string, used as the attach() name and registry key
	APICompat      int    // API compatibility number; rejected if below the core's requirement
}

// Callbacks is the upward API the core exposes to every module (spec.md
// §4.7): push_event, the relay fast paths, the deferred close_pc/end_session
// one-shots, and notify_event. moduleSession is always the same opaque value
// a module returned from its own CreateSession — the core maps it back to
// the owning handle internally, so the module never needs a handle
// reference of its own.
type Callbacks interface {
	// PushEvent sends body (plus an optional JSEP) to the client as an
	// "event" envelope. Returns nil on success; a non-nil error is a
	// *core.Error carrying HANDLE_NOT_FOUND (unknown, stopped or unbound
	// handle), WEBRTC_STATE (JSEP on an alerted handle, or an aborted wait),
	// JSEP_INVALID_SDP, or INTERNAL. body is passed through as given; it is
	// not checked to be a JSON object.
	PushEvent(moduleSession any, transaction string, body []byte, jsepType, jsepSDP string, hasJSEP bool) error

	// RelayRTP/RelayRTCP/RelayData forward the fast path; they never
	// report failure; callers drop silently on a stopped/alerted handle.
	RelayRTP(moduleSession any, isVideo bool, buf []byte)
	RelayRTCP(moduleSession any, isVideo bool, buf []byte)
	RelayData(moduleSession any, buf []byte)

	// ClosePC schedules a hangup on the core's shared timer goroutine
	// rather than running it under the module's own call stack.
	ClosePC(moduleSession any)
	// EndSession schedules handle teardown the same way.
	EndSession(moduleSession any)

	// NotifyEvent forwards an arbitrary module-originated event to the
	// event subsystem, tagged with session/handle/opaque id when the
	// moduleSession maps to a live handle.
	NotifyEvent(pkg string, moduleSession any, body map[string]any)
}

// Module is the interface every media application module implements.
// Per-handle hooks receive an opaque ModuleSession the module itself
// allocates in CreateSession and that the core threads back unmodified on
// every later call — this is the spec's "opaque module-handle reference".
type Module interface {
	Descriptor() Descriptor

	// Init receives the core's callback surface so the module can push
	// events and relay media without holding a reference to any core type.
	Init(configFolder string, callbacks Callbacks) error
	Destroy()

	CreateSession(ctx context.Context, handleID uint64, opaqueID string) (moduleSession any, err error)
	QuerySession(moduleSession any) (json []byte, err error)
	DestroySession(moduleSession any) error

	HandleMessage(ctx context.Context, moduleSession any, body []byte, jsepType, jsepSDP string, hasJSEP bool, hints JSEPHints) Result

	SetupMedia(moduleSession any) error
	HangupMedia(moduleSession any) error

	IncomingRTP(moduleSession any, isVideo bool, buf []byte)
	IncomingRTCP(moduleSession any, isVideo bool, buf []byte)
	IncomingData(moduleSession any, buf []byte)
}

// MinAPICompat is the lowest Descriptor.APICompat the core accepts.
const MinAPICompat = 1

// Registry is a read-mostly table of modules keyed by package string,
// populated at startup and never mutated afterward (per spec.md §5:
// "module and transport tables are read-mostly; writes occur only during
// startup and shutdown").
type Registry struct {
	byPackage map[string]Module
}

// NewRegistry builds a Registry from the given modules, skipping (and
// returning an error listing) any whose APICompat is below MinAPICompat.
func NewRegistry(mods ...Module) (*Registry, []error) {
	r := &Registry{byPackage: make(map[string]Module, len(mods))}
	var rejected []error
	for _, m := range mods {
		d := m.Descriptor()
		if d.APICompat < MinAPICompat {
			rejected = append(rejected, &incompatibleError{pkg: d.Package, got: d.APICompat, want: MinAPICompat})
			continue
		}
		r.byPackage[d.Package] = m
	}
	return r, rejected
}

// Lookup returns the module registered under the given package string.
func (r *Registry) Lookup(pkg string) (Module, bool) {
	m, ok := r.byPackage[pkg]
	return m, ok
}

// Packages lists every registered package string, for admin introspection.
func (r *Registry) Packages() []string {
	out := make([]string, 0, len(r.byPackage))
	for pkg := range r.byPackage {
		out = append(out, pkg)
	}
	return out
}

type incompatibleError struct {
	pkg      string
	got, want int
}

func (e *incompatibleError) Error() string {
	return "module " + e.pkg + ": API compatibility too low"
}
