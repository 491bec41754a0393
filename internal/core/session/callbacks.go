package session

import (
	"context"
	"fmt"
	"sync"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/events"
	"github.com/gatewaycore/core/internal/core/negotiation"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/sdpproc"
	"github.com/gatewaycore/core/api/wire"
)

// callbacks implements module.Callbacks, resolving the opaque moduleSession
// correlator every module call carries back to the registry.Handle that
// owns it (spec.md §4.7's sentinel-pointer contract generalized to Go: the
// map lookup below is the "sentinel" check — an unknown moduleSession is
// rejected the same way a stale pointer would be). close_pc and
// end_session are posted to a dedicated goroutine rather than run under
// the module's own call stack, grounded on drain.Coordinator's pattern of
// never running cleanup under the caller's lock.
type callbacks struct {
	h *Handlers

	mu    sync.RWMutex
	byMod map[any]*registry.Handle

	deferred chan func()
	stopCh   chan struct{}
}

func newCallbacks(h *Handlers) *callbacks {
	c := &callbacks{
		h:        h,
		byMod:    make(map[any]*registry.Handle),
		deferred: make(chan func(), 64),
		stopCh:   make(chan struct{}),
	}
	go c.runDeferred()
	return c
}

func (c *callbacks) runDeferred() {
	for {
		select {
		case task := <-c.deferred:
			task()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the deferred-task goroutine. Pending tasks already queued
// are dropped.
func (c *callbacks) Close() {
	close(c.stopCh)
}

func (c *callbacks) register(modSess any, handle *registry.Handle) {
	if modSess == nil {
		return
	}
	c.mu.Lock()
	c.byMod[modSess] = handle
	c.mu.Unlock()
}

func (c *callbacks) unregister(modSess any) {
	if modSess == nil {
		return
	}
	c.mu.Lock()
	delete(c.byMod, modSess)
	c.mu.Unlock()
}

func (c *callbacks) resolve(modSess any) (*registry.Handle, bool) {
	c.mu.RLock()
	handle, ok := c.byMod[modSess]
	c.mu.RUnlock()
	return handle, ok
}

// PushEvent implements module.Callbacks.
func (c *callbacks) PushEvent(modSess any, transaction string, body []byte, jsepType, jsepSDP string, hasJSEP bool) error {
	handle, ok := c.resolve(modSess)
	if !ok {
		return core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("unknown module session"))
	}
	if negotiation.Has(handle, negotiation.Stop) {
		return core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("handle stopped"))
	}
	if negotiation.Has(handle, negotiation.Alert) && hasJSEP {
		return core.Wrap(wire.ErrWebRTCState, fmt.Errorf("handle in alert"))
	}

	reply := &wire.Reply{
		Janus:       "event",
		SessionID:   handle.Session.ID,
		Sender:      handle.ID,
		Transaction: transaction,
		PluginData:  &wire.PluginData{Plugin: handle.Module.Descriptor().Package, Data: body},
	}

	if hasJSEP {
		out, err := negotiation.ModuleInitiatedJSEP(context.Background(), handle, c.h.NegDeps, c.mergeOptions(handle), negotiation.ModuleJSEPIn{Type: jsepType, SDP: jsepSDP})
		if err != nil {
			return err
		}
		reply.JSEP = &wire.JSEP{Type: out.Type, SDP: out.SDP}
		negotiation.Set(handle, negotiation.Ready)
	}

	if handle.Session.Binding == nil {
		return core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("no transport binding for session %d", handle.Session.ID))
	}
	if err := handle.Session.Binding.Send(transaction, false, reply); err != nil {
		return core.Wrap(wire.ErrInternal, err)
	}
	return nil
}

// mergeOptions builds the module-initiated JSEP merge options from the
// handle's live ICE collaborator state (spec.md §4.5: ICE credentials,
// fingerprint, candidates when half-trickle, RTX payload types scanned
// from [96..127]).
//
// Half-trickle is read as "this handle never turned on the TRICKLE flag" —
// the client declared (or defaulted to) no trickling, so the one chance to
// hand it any ICE candidates at all is embedding them directly in the
// merged SDP; a trickling handle gets them via the trickle verb/drain path
// instead and must not have them duplicated into the SDP.
func (c *callbacks) mergeOptions(handle *registry.Handle) sdpproc.MergeOptions {
	ufrag, pwd := "", ""
	fingerprint := ""
	var candidates []string
	var rtx map[int]int
	if handle.Agent != nil {
		ufrag, pwd = handle.Agent.LocalCredentials()
		fingerprint = handle.Agent.Fingerprint()
		if !negotiation.Has(handle, negotiation.Trickle) {
			candidates = handle.Agent.GatheredCandidates()
		}
		if pts := handle.Agent.NegotiatedPayloadTypes(); len(pts) > 0 {
			rtx = c.h.NegDeps.SDP.ChooseRTXPayloads(pts)
		}
	}
	return sdpproc.MergeOptions{
		Credentials: sdpproc.ICECredentials{Ufrag: ufrag, Pwd: pwd},
		Fingerprint: fingerprint,
		Candidates:  candidates,
		RTXPayload:  rtx,
	}
}

// RelayRTP implements module.Callbacks.
func (c *callbacks) RelayRTP(modSess any, isVideo bool, buf []byte) {
	if handle, ok := c.liveHandle(modSess); ok {
		handle.Agent.RelayRTP(isVideo, buf)
	}
}

// RelayRTCP implements module.Callbacks.
func (c *callbacks) RelayRTCP(modSess any, isVideo bool, buf []byte) {
	if handle, ok := c.liveHandle(modSess); ok {
		handle.Agent.RelayRTCP(isVideo, buf)
	}
}

// RelayData implements module.Callbacks.
func (c *callbacks) RelayData(modSess any, buf []byte) {
	if handle, ok := c.liveHandle(modSess); ok {
		handle.Agent.RelayData(buf)
	}
}

// liveHandle resolves modSess and re-checks STOP/ALERT, the fast-path
// re-validation spec.md §4.7 requires of every relay entry point.
func (c *callbacks) liveHandle(modSess any) (*registry.Handle, bool) {
	handle, ok := c.resolve(modSess)
	if !ok || handle.Agent == nil {
		return nil, false
	}
	if negotiation.Has(handle, negotiation.Stop) || negotiation.Has(handle, negotiation.Alert) {
		return nil, false
	}
	return handle, true
}

// ClosePC implements module.Callbacks: schedules a hangup on the shared
// deferred-task goroutine instead of running it under the module's call
// stack.
func (c *callbacks) ClosePC(modSess any) {
	handle, ok := c.resolve(modSess)
	if !ok {
		return
	}
	c.post(func() {
		if handle.Agent != nil {
			_ = handle.Agent.ClosePC()
		}
	})
}

// EndSession implements module.Callbacks: schedules full handle teardown
// on the shared deferred-task goroutine.
func (c *callbacks) EndSession(modSess any) {
	handle, ok := c.resolve(modSess)
	if !ok {
		return
	}
	c.post(func() {
		c.h.teardownHandle(handle, "module end_session")
		c.h.Registry.DetachHandle(handle)
		c.h.Events.Publish(context.Background(), events.NewEvent(events.KindHandleDetached, handle.Session.ID, handle.ID, nil))
	})
}

func (c *callbacks) post(task func()) {
	select {
	case c.deferred <- task:
	case <-c.stopCh:
	}
}

// NotifyEvent implements module.Callbacks.
func (c *callbacks) NotifyEvent(pkg string, modSess any, body map[string]any) {
	var sessionID, handleID uint64
	var opaqueID string
	if handle, ok := c.resolve(modSess); ok {
		sessionID = handle.Session.ID
		handleID = handle.ID
		opaqueID = handle.OpaqueID
	}
	e := events.NewEvent(events.KindModule, sessionID, handleID, body)
	e.Module = pkg
	e.OpaqueID = opaqueID
	c.h.Events.Publish(context.Background(), e)
}
