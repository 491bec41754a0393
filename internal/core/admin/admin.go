// Package admin implements the admin-channel control protocol (spec.md
// §4.6): runtime tunable verbs, session/handle introspection, and token
// management. Every verb is dispatched synchronously on the dispatcher
// thread (spec.md §4.2's routing rule), so unlike package session this
// Handlers has no worker pool and IsMessage always reports false.
//
// Grounded on the teacher's admin HTTP surface (services/signaling/app's
// stats/debug endpoints), generalized from ad hoc HTTP handlers keyed by
// URL path to verb-shaped JSON methods keyed by the `janus` field, the
// same envelope the client channel uses.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/auth"
	"github.com/gatewaycore/core/internal/core/events"
	"github.com/gatewaycore/core/internal/core/module"
	"github.com/gatewaycore/core/internal/core/negotiation"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/request"
	"github.com/gatewaycore/core/internal/corelog"
	"github.com/gatewaycore/core/internal/config"
	"github.com/gatewaycore/core/api/wire"
)

// Handlers implements dispatch.Router for the admin channel.
type Handlers struct {
	Registry *registry.Registry
	Modules  *module.Registry
	Auth     *auth.Gate
	Events   events.Publisher

	Info wire.ServerInfo
}

// NewHandlers wires an admin Handlers.
func NewHandlers(reg *registry.Registry, mods *module.Registry, gate *auth.Gate, pub events.Publisher, info wire.ServerInfo) *Handlers {
	return &Handlers{Registry: reg, Modules: mods, Auth: gate, Events: pub, Info: info}
}

// IsMessage is always false: every admin verb runs synchronously, there is
// no equivalent of the client channel's "message" worker-pool verb.
func (h *Handlers) IsMessage(*request.Request) bool { return false }

// Handle routes req to the matching admin verb.
func (h *Handlers) Handle(ctx context.Context, req *request.Request) {
	w, err := decodeAdmin(req)
	if err != nil {
		h.replyErr(req, "", core.Wrap(wire.ErrInvalidJSONObject, err))
		return
	}
	if w.Janus == "" || w.Transaction == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing janus or transaction"))
		return
	}
	if h.Auth != nil && !h.Auth.CheckAdminSecret(w.AdminSecret) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrUnauthorized, fmt.Errorf("admin authorization failed")))
		return
	}

	switch w.Janus {
	case "info":
		h.handleInfo(req, w)
	case "get_status":
		h.handleGetStatus(req, w)
	case "set_session_timeout":
		h.handleSetSessionTimeout(req, w)
	case "set_log_level":
		h.handleSetLogLevel(req, w)
	case "set_locking_debug":
		h.handleBoolTunable(req, w, "locking_debug", func(t *config.Tunables, v bool) { t.LockingDebug = v })
	case "set_refcount_debug":
		h.handleBoolTunable(req, w, "refcount_debug", func(t *config.Tunables, v bool) { t.RefcountDebug = v })
	case "set_log_timestamps":
		h.handleBoolTunable(req, w, "log_timestamps", func(t *config.Tunables, v bool) {
			t.LogTimestamps = v
			corelog.SetTimestamps(v)
		})
	case "set_log_colors":
		h.handleBoolTunable(req, w, "log_colors", func(t *config.Tunables, v bool) {
			t.LogColors = v
			corelog.SetColors(v)
		})
	case "set_libnice_debug":
		h.handleBoolTunable(req, w, "libnice_debug", func(t *config.Tunables, v bool) { t.LibniceDebug = v })
	case "set_max_nack_queue":
		h.handleSetMaxNackQueue(req, w)
	case "set_no_media_timer":
		h.handleSetNoMediaTimer(req, w)
	case "query_eventhandler":
		h.handleQueryEventhandler(req, w)
	case "list_sessions":
		h.handleListSessions(req, w)
	case "list_tokens":
		h.handleListTokens(req, w)
	case "add_token":
		h.handleAddToken(req, w)
	case "allow_token":
		h.handleAllowToken(req, w)
	case "disallow_token":
		h.handleDisallowToken(req, w)
	case "remove_token":
		h.handleRemoveToken(req, w)
	case "list_handles":
		h.handleListHandles(req, w)
	case "handle_info":
		h.handleHandleInfo(req, w)
	case "start_text2pcap":
		h.handleText2pcap(req, w, true)
	case "stop_text2pcap":
		h.handleText2pcap(req, w, false)
	default:
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrUnknownRequest, "unknown admin request %q", w.Janus))
	}
}

func decodeAdmin(req *request.Request) (*wire.Request, error) {
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

func (h *Handlers) replyErr(req *request.Request, transaction string, err error) {
	_ = req.Reply(core.ToReply(transaction, err))
}

func (h *Handlers) replyResult(req *request.Request, w *wire.Request, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInternal, err))
		return
	}
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction, Result: raw})
}

func (h *Handlers) handleInfo(req *request.Request, w *wire.Request) {
	info := h.Info
	info.Plugins = h.Modules.Packages()
	_ = req.Reply(&wire.Reply{Janus: "server_info", Transaction: w.Transaction, ServerInfo: &info})
}

// handleGetStatus reports the live tunable snapshot, per spec.md §4.6.
func (h *Handlers) handleGetStatus(req *request.Request, w *wire.Request) {
	t := config.LiveTunables()
	h.replyResult(req, w, map[string]any{
		"session_timeout": int(t.SessionTimeout / time.Second),
		"log_level":       t.LogLevel,
		"max_nack_queue":  t.MaxNackQueue,
		"no_media_timer":  t.NoMediaTimer,
		"locking_debug":   t.LockingDebug,
		"refcount_debug":  t.RefcountDebug,
		"log_timestamps":  t.LogTimestamps,
		"log_colors":      t.LogColors,
		"libnice_debug":   t.LibniceDebug,
		"sessions":        h.Registry.Count(),
	})
}

type tunableIntBody struct {
	Timeout int `json:"timeout"`
}

func (h *Handlers) handleSetSessionTimeout(req *request.Request, w *wire.Request) {
	var body tunableIntBody
	if err := json.Unmarshal(w.Body, &body); err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInvalidElementType, err))
		return
	}
	d := time.Duration(body.Timeout) * time.Second
	h.Registry.SetSessionTimeout(d)
	h.updateTunables(func(t *config.Tunables) { t.SessionTimeout = d })
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

type logLevelBody struct {
	Level string `json:"level"`
}

func (h *Handlers) handleSetLogLevel(req *request.Request, w *wire.Request) {
	var body logLevelBody
	if err := json.Unmarshal(w.Body, &body); err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInvalidElementType, err))
		return
	}
	switch body.Level {
	case "debug", "info", "warn", "error":
	default:
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrInvalidElementType, "log level out of range"))
		return
	}
	corelog.SetLevel(body.Level)
	h.updateTunables(func(t *config.Tunables) { t.LogLevel = body.Level })
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

type tunableBoolBody struct {
	Enable bool `json:"enable"`
}

func (h *Handlers) handleBoolTunable(req *request.Request, w *wire.Request, _ string, apply func(*config.Tunables, bool)) {
	var body tunableBoolBody
	if err := json.Unmarshal(w.Body, &body); err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInvalidElementType, err))
		return
	}
	h.updateTunables(func(t *config.Tunables) { apply(t, body.Enable) })
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) handleSetMaxNackQueue(req *request.Request, w *wire.Request) {
	var body struct {
		NackQueue int `json:"nack_queue"`
	}
	if err := json.Unmarshal(w.Body, &body); err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInvalidElementType, err))
		return
	}
	if body.NackQueue != 0 && body.NackQueue < 200 {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrInvalidElementType, "max_nack_queue must be 0 or >= 200"))
		return
	}
	h.updateTunables(func(t *config.Tunables) { t.MaxNackQueue = body.NackQueue })
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) handleSetNoMediaTimer(req *request.Request, w *wire.Request) {
	var body struct {
		NoMediaTimer int `json:"no_media_timer"`
	}
	if err := json.Unmarshal(w.Body, &body); err != nil {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrInvalidElementType, err))
		return
	}
	if body.NoMediaTimer < 0 {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrInvalidElementType, "no_media_timer must be >= 0"))
		return
	}
	h.updateTunables(func(t *config.Tunables) { t.NoMediaTimer = body.NoMediaTimer })
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

// updateTunables reads, copies, mutates, and swaps the live Tunables
// snapshot so concurrent readers never observe a torn update.
func (h *Handlers) updateTunables(mutate func(*config.Tunables)) {
	cur := config.LiveTunables()
	next := *cur
	mutate(&next)
	config.SetLiveTunables(&next)
}

// handleQueryEventhandler reports whether the configured event publisher
// can be introspected (a ChannelPublisher exposes a drop counter; other
// publishers report only that they're attached).
func (h *Handlers) handleQueryEventhandler(req *request.Request, w *wire.Request) {
	result := map[string]any{"attached": h.Events != nil}
	if cp, ok := h.Events.(*events.ChannelPublisher); ok {
		result["dropped"] = cp.DroppedCount()
	}
	h.replyResult(req, w, result)
}

func (h *Handlers) handleListSessions(req *request.Request, w *wire.Request) {
	sessions := h.Registry.ListSessions()
	ids := make([]uint64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	h.replyResult(req, w, map[string]any{"sessions": ids})
}

func (h *Handlers) handleListTokens(req *request.Request, w *wire.Request) {
	if err := h.requireTokenAuth(req, w); err != nil {
		return
	}
	h.replyResult(req, w, map[string]any{"tokens": h.Auth.ListTokens()})
}

type tokenBody struct {
	Token   string   `json:"token"`
	Plugins []string `json:"plugins,omitempty"`
	Plugin  string   `json:"plugin,omitempty"`
	TTL     int      `json:"ttl,omitempty"` // seconds; 0 means never expires
}

func (h *Handlers) handleAddToken(req *request.Request, w *wire.Request) {
	if err := h.requireTokenAuth(req, w); err != nil {
		return
	}
	var body tokenBody
	if err := json.Unmarshal(w.Body, &body); err != nil || body.Token == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing token"))
		return
	}
	h.Auth.AddToken(body.Token, body.Plugins, time.Duration(body.TTL)*time.Second)
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) handleAllowToken(req *request.Request, w *wire.Request) {
	if err := h.requireTokenAuth(req, w); err != nil {
		return
	}
	var body tokenBody
	if err := json.Unmarshal(w.Body, &body); err != nil || body.Token == "" || body.Plugin == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing token or plugin"))
		return
	}
	if !h.Auth.AllowPlugin(body.Token, body.Plugin) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrTokenNotFound, fmt.Errorf("token %q", body.Token)))
		return
	}
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) handleDisallowToken(req *request.Request, w *wire.Request) {
	if err := h.requireTokenAuth(req, w); err != nil {
		return
	}
	var body tokenBody
	if err := json.Unmarshal(w.Body, &body); err != nil || body.Token == "" || body.Plugin == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing token or plugin"))
		return
	}
	if !h.Auth.DisallowPlugin(body.Token, body.Plugin) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrTokenNotFound, fmt.Errorf("token %q", body.Token)))
		return
	}
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) handleRemoveToken(req *request.Request, w *wire.Request) {
	if err := h.requireTokenAuth(req, w); err != nil {
		return
	}
	var body tokenBody
	if err := json.Unmarshal(w.Body, &body); err != nil || body.Token == "" {
		h.replyErr(req, w.Transaction, core.Newf(wire.ErrMissingMandatory, "missing token"))
		return
	}
	if !h.Auth.TokenKnown(body.Token) {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrTokenNotFound, fmt.Errorf("token %q", body.Token)))
		return
	}
	h.Auth.RemoveToken(body.Token)
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}

func (h *Handlers) requireTokenAuth(req *request.Request, w *wire.Request) error {
	if h.Auth == nil || !h.Auth.TokenAuthEnabled() {
		err := core.Newf(wire.ErrUnauthorized, "token auth is not enabled")
		h.replyErr(req, w.Transaction, err)
		return err
	}
	return nil
}

func (h *Handlers) handleListHandles(req *request.Request, w *wire.Request) {
	s, ok := h.Registry.FindSession(w.SessionID)
	if !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrSessionNotFound, fmt.Errorf("session %d", w.SessionID)))
		return
	}
	defer s.Release()
	handles := s.Handles()
	ids := make([]uint64, 0, len(handles))
	for _, hd := range handles {
		ids = append(ids, hd.ID)
	}
	h.replyResult(req, w, map[string]any{"handles": ids})
}

func (h *Handlers) handleHandleInfo(req *request.Request, w *wire.Request) {
	s, ok := h.Registry.FindSession(w.SessionID)
	if !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrSessionNotFound, fmt.Errorf("session %d", w.SessionID)))
		return
	}
	defer s.Release()
	hd, ok := s.Handle(w.HandleID)
	if !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("handle %d", w.HandleID)))
		return
	}

	info := map[string]any{
		"session_id":     hd.Session.ID,
		"handle_id":      hd.ID,
		"opaque_id":      hd.OpaqueID,
		"current_time":   time.Now().UTC().Format(time.RFC3339),
		"flags": map[string]bool{
			"got-offer":       negotiation.Has(hd, negotiation.GotOffer),
			"got-answer":      negotiation.Has(hd, negotiation.GotAnswer),
			"ready":           negotiation.Has(hd, negotiation.Ready),
			"ice-restart":     negotiation.Has(hd, negotiation.ICERestart),
			"stopped":         negotiation.Has(hd, negotiation.Stop),
			"alert":           negotiation.Has(hd, negotiation.Alert),
			"cleaning":        negotiation.Has(hd, negotiation.Cleaning),
			"has-audio":       negotiation.Has(hd, negotiation.HasAudio),
			"has-video":       negotiation.Has(hd, negotiation.HasVideo),
			"data-channels":   negotiation.Has(hd, negotiation.DataChannels),
		},
	}
	if hd.Module != nil {
		info["plugin"] = hd.Module.Descriptor().Package
		if hd.ModSess != nil {
			if raw, err := hd.Module.QuerySession(hd.ModSess); err == nil {
				info["plugin_specific"] = json.RawMessage(raw)
			}
		}
	}
	h.replyResult(req, w, info)
}

// handleText2pcap answers spec.md §4.6's start_text2pcap/stop_text2pcap.
// It checks that the session and handle exist and replies success; it
// records no per-handle state and captures no packets (the RTP/RTCP relay
// plane is a named external collaborator per spec.md §1).
func (h *Handlers) handleText2pcap(req *request.Request, w *wire.Request, start bool) {
	s, ok := h.Registry.FindSession(w.SessionID)
	if !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrSessionNotFound, fmt.Errorf("session %d", w.SessionID)))
		return
	}
	defer s.Release()
	if _, ok := s.Handle(w.HandleID); !ok {
		h.replyErr(req, w.Transaction, core.Wrap(wire.ErrHandleNotFound, fmt.Errorf("handle %d", w.HandleID)))
		return
	}
	_ = req.Reply(&wire.Reply{Janus: "success", Transaction: w.Transaction})
}
