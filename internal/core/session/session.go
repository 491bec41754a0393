// Package session implements the client-facing session/handle control
// protocol (spec.md §4.4) and the module-facing callback API (§4.7) that
// shares its moduleSession→Handle correlator table. Grounded on
// dialog.Manager's verb-shaped methods (CreateFromInvite ~ create,
// ConfirmWithACK/HandleIncomingBYE ~ keepalive/hangup state updates)
// generalized from the fixed SIP verb set to the spec's JSON verb set.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/auth"
	"github.com/gatewaycore/core/internal/core/events"
	"github.com/gatewaycore/core/internal/core/iceagent"
	"github.com/gatewaycore/core/internal/core/module"
	"github.com/gatewaycore/core/internal/core/negotiation"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/request"
	"github.com/gatewaycore/core/api/wire"
)

// Handlers implements dispatch.Router for the client channel's control
// verbs: info, ping, create, keepalive, attach, detach, destroy, hangup,
// message, trickle.
type Handlers struct {
	Registry *registry.Registry
	Modules  *module.Registry
	Auth     *auth.Gate
	Events   events.Publisher
	NegDeps  negotiation.Deps
	NewAgent func() iceagent.Agent

	TrickleTTL time.Duration
	Info       wire.ServerInfo

	cb *callbacks
}

// NewHandlers wires a Handlers and the module.Callbacks implementation it
// shares a correlator table with.
func NewHandlers(reg *registry.Registry, mods *module.Registry, gate *auth.Gate, pub events.Publisher, negDeps negotiation.Deps, newAgent func() iceagent.Agent, trickleTTL time.Duration, info wire.ServerInfo) *Handlers {
	h := &Handlers{
		Registry:   reg,
		Modules:    mods,
		Auth:       gate,
		Events:     pub,
		NegDeps:    negDeps,
		NewAgent:   newAgent,
		TrickleTTL: trickleTTL,
		Info:       info,
	}
	h.cb = newCallbacks(h)
	return h
}

// Callbacks returns the module.Callbacks implementation modules are
// initialized with.
func (h *Handlers) Callbacks() module.Callbacks { return h.cb }

// Close stops the callback subsystem's deferred-task goroutine.
func (h *Handlers) Close() { h.cb.Close() }

// IsMessage reports whether req names the "message" verb.
func (h *Handlers) IsMessage(req *request.Request) bool {
	w, err := decode(req)
	if err != nil {
		return false
	}
	return w.Janus == "message"
}

// Handle routes req to the matching verb handler.
func (h *Handlers) Handle(ctx context.Context, req *request.Request) {
	w, err := decode(req)
	if err != nil {
		h.replyErr(req, "", core.Wrap(wire.ErrInvalidJSONObject, err))
		return
	}
	if w.Janus == "" || w.Transaction == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing janus or transaction"))
		return
	}
	if !h.authorized(w) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrUnauthorized, fmt.Errorf("authorization failed")))
		return
	}

	switch w.Janus {
	case "info":
		h.handleInfo(req, w)
	case "ping":
		h.handlePing(req, w)
	case "create":
		h.handleCreate(req, w)
	case "keepalive":
		h.handleKeepalive(req, w)
	case "attach":
		h.handleAttach(ctx, req, w)
	case "detach":
		h.handleDetach(req, w)
	case "destroy":
		h.handleDestroy(req, w)
	case "hangup":
		h.handleHangup(req, w)
	case "message":
		h.handleMessage(ctx, req, w)
	case "trickle":
		h.handleTrickle(req, w)
	default:
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrUnknownRequest, "unknown request %q", w.Janus))
	}
}

// decode rebuilds the typed wire.Request from a Request's generic
// JSON-field map — Request intentionally keeps field access generic
// (request.Request.String/Has) rather than embedding wire.Request, so
// every router that cares about its own verb shape decodes independently.
func decode(req *request.Request) (*wire.Request, error) {
	raw, err := json.Marshal(req.Root)
	if err != nil {
		return nil, err
	}
	var w wire.Request
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// authorized implements spec.md §4.3: when neither an api secret nor token
// auth is configured, every request passes. Otherwise authorization
// requires an api-secret match OR (token auth enabled AND a known token) —
// an unconfigured api secret must NOT short-circuit this into an
// automatic pass when token auth is the only gate actually enabled.
func (h *Handlers) authorized(w *wire.Request) bool {
	if h.Auth == nil {
		return true
	}
	if !h.Auth.APISecretConfigured() && !h.Auth.TokenAuthEnabled() {
		return true
	}
	if h.Auth.CheckAPISecret(w.APISecret) {
		return true
	}
	return h.Auth.TokenAuthEnabled() && h.Auth.TokenKnown(w.Token)
}

func (h *Handlers) replyErr(req *request.Request, transaction string, err error) {
	_ = req.Reply(core.ToReply(transaction, err))
}

func (h *Handlers) lookupSession(sessionID uint64) (*registry.Session, error) {
	s, ok := h.Registry.FindSession(sessionID)
	if !ok {
		return nil, core.Wrap(wire.ErrSessionNotFound, fmt.Errorf("session %d", sessionID))
	}
	return s, nil
}

func (h *Handlers) lookupSessionHandle(w *wire.Request) (*registry.Session, *registry.Handle, error) {
	s, err := h.lookupSession(w.SessionID)
	if err != nil {
		return nil, nil, err
	}
	handle, ok := s.Handle(w.HandleID)
	if !ok {
		s.Release()
		return nil, nil, core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("handle %d", w.HandleID))
	}
	return s, handle, nil
}

func (h *Handlers) handleInfo(req *request.Request, w *wire.Request) {
	info := h.Info
	info.Plugins = h.Modules.Packages()
	_ = req.Reply(&wire.Reply{Janus: "server_info", Transaction: w.Transaction, ServerInfo: &info})
}

func (h *Handlers) handlePing(req *request.Request, w *wire.Request) {
	_ = req.Reply(&wire.Reply{Janus: "pong", Transaction: w.Transaction})
}

func (h *Handlers) handleCreate(req *request.Request, w *wire.Request) {
	var idHint uint64
	if w.ID != nil {
		idHint = *w.ID
	}
	s, err := h.Registry.CreateSession(idHint, req.Binding)
	if err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrSessionConflict, err))
		return
	}
	if req.Binding != nil && req.Binding.Carrier != nil {
		req.Binding.Carrier.SessionCreated(req.Binding, s.ID)
	}
	h.Events.Publish(context.Background(), events.NewEvent(events.KindSessionCreated, s.ID, 0, nil))
	_ = req.Reply(&wire.Reply{Janus: "success", SessionID: s.ID, Transaction: w.Transaction, Data: &wire.SuccessData{ID: s.ID}})
}

func (h *Handlers) handleKeepalive(req *request.Request, w *wire.Request) {
	s, err := h.lookupSession(w.SessionID)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()
	_ = req.Reply(&wire.Reply{Janus: "ack", SessionID: s.ID, Transaction: w.Transaction})
}

func (h *Handlers) handleAttach(ctx context.Context, req *request.Request, w *wire.Request) {
	s, err := h.lookupSession(w.SessionID)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()

	if w.Plugin == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing plugin"))
		return
	}
	mod, ok := h.Modules.Lookup(w.Plugin)
	if !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrPluginNotFound, fmt.Errorf("plugin %q", w.Plugin)))
		return
	}
	if h.Auth != nil && !h.Auth.TokenAllowsPlugin(w.Token, w.Plugin) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrUnauthorizedPlugin, fmt.Errorf("plugin %q", w.Plugin)))
		return
	}

	agent := h.NewAgent()
	handle := h.Registry.AttachHandle(s, mod, agent, w.OpaqueID, h.TrickleTTL)

	modSess, err := mod.CreateSession(ctx, handle.ID, w.OpaqueID)
	if err != nil {
		h.Registry.DetachHandle(handle)
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrPluginAttach, err))
		return
	}
	handle.ModSess = modSess
	h.cb.register(modSess, handle)

	h.Events.Publish(ctx, events.NewEvent(events.KindHandleAttached, s.ID, handle.ID, map[string]any{"plugin": w.Plugin}))
	_ = req.Reply(&wire.Reply{Janus: "success", SessionID: s.ID, Transaction: w.Transaction, Data: &wire.SuccessData{ID: handle.ID}})
}

func (h *Handlers) handleDetach(req *request.Request, w *wire.Request) {
	s, handle, err := h.lookupSessionHandle(w)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()

	if handle.Module == nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrPluginDetach, fmt.Errorf("no module attached")))
		return
	}

	h.teardownHandle(handle, "detach")
	h.Registry.DetachHandle(handle)
	h.Events.Publish(context.Background(), events.NewEvent(events.KindHandleDetached, s.ID, handle.ID, nil))
	_ = req.Reply(&wire.Reply{Janus: "success", SessionID: s.ID, Transaction: w.Transaction})
}

func (h *Handlers) handleDestroy(req *request.Request, w *wire.Request) {
	s, err := h.lookupSession(w.SessionID)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()

	h.Registry.DestroySession(s, func(handle *registry.Handle) {
		h.teardownHandle(handle, "session destroyed")
	})
	h.Registry.RemoveSession(s)
	if s.Binding != nil && s.Binding.Carrier != nil {
		s.Binding.Carrier.SessionOver(s.Binding, s.ID, false)
	}
	h.Events.Publish(context.Background(), events.NewEvent(events.KindSessionDestroyed, s.ID, 0, nil))
	_ = req.Reply(&wire.Reply{Janus: "success", SessionID: s.ID, Transaction: w.Transaction})
}

func (h *Handlers) handleHangup(req *request.Request, w *wire.Request) {
	s, handle, err := h.lookupSessionHandle(w)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()

	if handle.Agent != nil {
		_ = handle.Agent.Hangup("Janus API")
	}
	negotiation.Clear(handle, negotiation.Ready|negotiation.GotOffer|negotiation.GotAnswer|
		negotiation.ProcessingOffer|negotiation.ICERestart|negotiation.HasAudio|
		negotiation.HasVideo|negotiation.DataChannels|negotiation.Trickle|negotiation.AllTrickles)
	if handle.Module != nil && handle.ModSess != nil {
		_ = handle.Module.HangupMedia(handle.ModSess)
	}
	_ = req.Reply(&wire.Reply{Janus: "success", SessionID: s.ID, Transaction: w.Transaction})
}

func (h *Handlers) handleMessage(ctx context.Context, req *request.Request, w *wire.Request) {
	s, handle, err := h.lookupSessionHandle(w)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()

	if handle.Module == nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrPluginMessage, fmt.Errorf("no module attached")))
		return
	}

	jsepType, jsepSDP := "", ""
	hasJSEP := w.JSEP != nil
	var hints module.JSEPHints
	if hasJSEP {
		in := negotiation.JSEPIn{Type: w.JSEP.Type, SDP: w.JSEP.SDP, Trickle: w.JSEP.Trickle}
		result, err := negotiation.MessageWithJSEP(ctx, handle, h.NegDeps, in)
		if err != nil {
			h.replyErr(req, w.Transaction, err)
			return
		}
		jsepType, jsepSDP = w.JSEP.Type, w.JSEP.SDP
		hints = module.JSEPHints{Update: result.Update, Simulcast: result.Simulcast}
	}

	res := handle.Module.HandleMessage(ctx, handle.ModSess, w.Body, jsepType, jsepSDP, hasJSEP, hints)
	switch res.Kind {
	case module.ResultOK:
		_ = req.Reply(&wire.Reply{
			Janus: "success", SessionID: s.ID, Sender: handle.ID, Transaction: w.Transaction,
			PluginData: &wire.PluginData{Plugin: handle.Module.Descriptor().Package, Data: res.Content},
		})
	case module.ResultWait:
		_ = req.Reply(&wire.Reply{Janus: "ack", SessionID: s.ID, Transaction: w.Transaction})
	default:
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrPluginMessage, "%s", res.ErrText))
	}
}

func (h *Handlers) handleTrickle(req *request.Request, w *wire.Request) {
	s, handle, err := h.lookupSessionHandle(w)
	if err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	defer s.Release()
	s.Touch()

	if handle.Module == nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("no module attached")))
		return
	}

	in := negotiation.TrickleIn{Transaction: w.Transaction, Candidate: w.Candidate, Candidates: w.Candidates}
	if err := negotiation.Trickle(handle, in, h.TrickleTTL); err != nil {
		h.replyErr(req, w.Transaction, err)
		return
	}
	_ = req.Reply(&wire.Reply{Janus: "ack", SessionID: s.ID, Transaction: w.Transaction})
}

// TeardownHandle exposes teardownHandle to callers outside this package —
// the registry's onTimeout hook runs it against every handle of a
// session the idle sweeper just claimed, before DestroySession performs
// the structural removal.
func (h *Handlers) TeardownHandle(handle *registry.Handle, reason string) {
	h.teardownHandle(handle, reason)
}

// teardownHandle runs the module/ICE teardown shared by detach, destroy,
// and a module-initiated end_session: mark CLEANING so no new offer/answer
// races the hangup, tear down the ICE side, destroy the module session,
// and drop the correlator entry.
func (h *Handlers) teardownHandle(handle *registry.Handle, reason string) {
	negotiation.Set(handle, negotiation.Cleaning)
	if handle.Agent != nil {
		_ = handle.Agent.Hangup(reason)
	}
	if handle.Module != nil && handle.ModSess != nil {
		_ = handle.Module.DestroySession(handle.ModSess)
	}
	h.cb.unregister(handle.ModSess)
}
