// Package app wires the signaling core together: registry, auth gate,
// module table, event publisher, the client and admin verb handlers, and
// the single dispatcher both channels share. Grounded on
// services/signaling/app's Run/Shutdown shape (construct every
// collaborator, start background goroutines, return one object whose
// Close tears everything down in reverse order), generalized from the
// SIP app's b2bua/registration/routing wiring to this core's
// registry/auth/module/events/session/admin wiring.
package app

import (
	"context"
	"time"

	"github.com/gatewaycore/core/internal/core/admin"
	"github.com/gatewaycore/core/internal/core/auth"
	"github.com/gatewaycore/core/internal/core/dispatch"
	"github.com/gatewaycore/core/internal/core/events"
	"github.com/gatewaycore/core/internal/core/iceagent"
	"github.com/gatewaycore/core/internal/core/module"
	"github.com/gatewaycore/core/internal/core/negotiation"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/request"
	"github.com/gatewaycore/core/internal/core/sdpproc"
	"github.com/gatewaycore/core/internal/core/session"
	"github.com/gatewaycore/core/internal/config"
	"github.com/gatewaycore/core/internal/corelog"
	"github.com/gatewaycore/core/internal/transport"
	"github.com/gatewaycore/core/api/wire"
)

// Core is the fully wired gateway: every collaborator package plus the
// single dispatcher the client and admin channels share.
type Core struct {
	Registry *registry.Registry
	Modules  *module.Registry
	Auth     *auth.Gate
	Events   events.Publisher

	Session *session.Handlers
	Admin   *admin.Handlers

	Dispatcher *dispatch.Dispatcher
}

// New builds a Core from cfg and the given modules, using sdpproc.Default
// and a fresh iceagent.LocalAgent per handle (the reference, in-process
// ICE/DTLS collaborator — a real deployment would swap NewAgent for one
// backed by an external media process).
func New(cfg *config.Config, mods []module.Module, pub events.Publisher) (*Core, []error) {
	if pub == nil {
		pub = events.NewLoggingPublisher(corelog.With("events"))
	}

	config.SetLiveTunables(&config.Tunables{
		SessionTimeout: cfg.SessionTimeout,
		LogLevel:       cfg.LogLevel,
		MaxNackQueue:   cfg.DefaultNackQueue,
		LogColors:      cfg.LogColors,
	})

	modReg, rejected := module.NewRegistry(mods...)

	reg := registry.New(cfg.SessionTimeout, cfg.SweepInterval)
	gate := auth.New(cfg.APISecret, cfg.AdminSecret, cfg.TokenAuth, time.Minute)

	info := wire.ServerInfo{
		Name:          "gatewaycore",
		Version:       1,
		VersionString: "1.0.0",
		AuthToken:     cfg.TokenAuth,
		DataChannels:  true,
	}

	negDeps := negotiation.Deps{
		SDP:                  sdpproc.Default{},
		CleaningWaitDeadline: cfg.CleaningWaitDeadline,
		FullTrickle:          cfg.FullTrickle,
	}

	newAgent := func() iceagent.Agent { return iceagent.NewLocalAgent() }

	sessionHandlers := session.NewHandlers(reg, modReg, gate, pub, negDeps, newAgent, cfg.TrickleBufferTTL, info)
	adminHandlers := admin.NewHandlers(reg, modReg, gate, pub, info)

	c := &Core{
		Registry: reg,
		Modules:  modReg,
		Auth:     gate,
		Events:   pub,
		Session:  sessionHandlers,
		Admin:    adminHandlers,
	}

	reg.SetOnTimeout(func(s *registry.Session) {
		if s.Binding != nil {
			_ = s.Binding.Send(nil, false, &wire.Reply{Janus: "timeout", SessionID: s.ID})
		}
		for _, h := range s.Handles() {
			c.Session.TeardownHandle(h, "session timeout")
		}
		pub.Publish(context.Background(), events.NewEvent(events.KindSessionTimeout, s.ID, 0, nil))
	})
	reg.SetOnEvict(func(s *registry.Session) {
		if s.Binding != nil && s.Binding.Carrier != nil {
			s.Binding.Carrier.SessionOver(s.Binding, s.ID, true)
		}
	})

	router := &compositeRouter{session: sessionHandlers, admin: adminHandlers}
	c.Dispatcher = dispatch.New(router, 256, cfg.WorkerIdleRetirement)

	for _, m := range mods {
		if err := m.Init("", sessionHandlers.Callbacks()); err != nil {
			rejected = append(rejected, err)
		}
	}

	return c, rejected
}

// Close tears down the dispatcher, every module, the session callback
// subsystem's deferred-task goroutine, the auth token store's cleanup
// goroutine, the registry's sweeper, and the event publisher, in that order.
func (c *Core) Close() {
	c.Dispatcher.Close()
	for _, pkg := range c.Modules.Packages() {
		if m, ok := c.Modules.Lookup(pkg); ok {
			m.Destroy()
		}
	}
	c.Session.Close()
	c.Auth.Close()
	c.Registry.Close()
	_ = c.Events.Close()
}

// compositeRouter dispatches between the client and admin channel
// handlers based on Request.Admin (spec.md §4.2's routing rule: admin
// requests always run synchronously through the admin handlers; every
// other request — including every non-"message" client verb — goes
// through the session handlers, which decide the worker-pool split for
// "message" themselves via IsMessage).
type compositeRouter struct {
	session *session.Handlers
	admin   *admin.Handlers
}

func (r *compositeRouter) IsMessage(req *request.Request) bool {
	if req.Admin {
		return false
	}
	return r.session.IsMessage(req)
}

func (r *compositeRouter) Handle(ctx context.Context, req *request.Request) {
	if req.Admin {
		r.admin.Handle(ctx, req)
		return
	}
	r.session.Handle(ctx, req)
}
