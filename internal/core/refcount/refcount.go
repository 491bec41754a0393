// Package refcount implements the shared-ownership lifecycle primitive used
// by every entity in the registry (Session, Handle) and by the dispatcher's
// in-flight Request bookkeeping: map membership counts as one strong
// reference, destruction is a two-step "remove from map, then drop" CAS
// sequence, and the final release runs a caller-supplied cleanup exactly
// once. Grounded on the teacher's atomic.Bool CAS guards
// (dialog.Dialog.reInviteInProgress) generalized from "guard one in-flight
// operation" to "guard the single terminal transition of an entity's life".
package refcount

import "sync/atomic"

// Counted gives an embeddable reference count plus a one-shot "destroying"
// latch. The zero value is ready to use with a count of zero; every owner,
// the registry on insert included, takes its reference with Hold.
type Counted struct {
	n          atomic.Int64
	destroying atomic.Bool
}

// Hold adds one reference. Callers must hold a reference for as long as they
// retain a pointer to the owning entity outside of the registry's lock.
func (c *Counted) Hold() {
	c.n.Add(1)
}

// Release drops one reference and reports whether this call brought the
// count to zero. When it does, the caller is responsible for running final
// cleanup exactly once.
func (c *Counted) Release() bool {
	return c.n.Add(-1) == 0
}

// Count returns the current reference count, for diagnostics only.
func (c *Counted) Count() int64 {
	return c.n.Load()
}

// BeginDestroy attempts the single allowed transition into "destroying".
// Returns false if another goroutine already won the race — callers use
// this to make destroy_session/detach/close_pc idempotent without a mutex.
func (c *Counted) BeginDestroy() bool {
	return c.destroying.CompareAndSwap(false, true)
}

// Destroying reports whether BeginDestroy has already succeeded once.
func (c *Counted) Destroying() bool {
	return c.destroying.Load()
}
