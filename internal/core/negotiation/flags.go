// Package negotiation implements the per-handle WebRTC negotiation state
// machine (spec.md §4.5): the flag set, the message-path-with-JSEP
// algorithm, the answer-trickle drain, trickle verb handling, and
// module-initiated JSEP. It operates on *registry.Handle directly — the
// flag bitmask lives on the Handle, guarded by the Handle's own mutex, so
// offer/answer processing is serialized per handle as spec.md §5 requires.
package negotiation

import "github.com/gatewaycore/core/internal/core/registry"

// Flag is one bit of the per-handle negotiation flag set.
type Flag uint64

const (
	GotOffer Flag = 1 << iota
	GotAnswer
	ProcessingOffer
	Ready
	Trickle
	AllTrickles
	ResendTrickles
	TrickleSynced
	ICERestart
	Cleaning
	Alert
	Stop
	HasAudio
	HasVideo
	DataChannels
	RFC4588RTX

	// iceEstablished is bookkeeping, not one of spec's named flags: it
	// tracks whether SetupLocal has already run for this handle, so a
	// bare "answer" arriving before any offer can be rejected as
	// UNEXPECTED_ANSWER rather than silently treated as a fresh offer.
	iceEstablished
)

// Set flips on bits, under the handle's lock.
func Set(h *registry.Handle, f Flag) {
	h.Lock()
	h.Flags |= uint64(f)
	h.Unlock()
}

// Clear flips off bits, under the handle's lock.
func Clear(h *registry.Handle, f Flag) {
	h.Lock()
	h.Flags &^= uint64(f)
	h.Unlock()
}

// Has reports whether every bit in f is set.
func Has(h *registry.Handle, f Flag) bool {
	h.Lock()
	defer h.Unlock()
	return h.Flags&uint64(f) == uint64(f)
}

