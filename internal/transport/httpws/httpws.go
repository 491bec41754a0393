// Package httpws is the reference transport carrier (spec.md §6.1):
// plain HTTP long-poll is out of scope here, but a WebSocket carrier is
// the one concrete wire-level thing worth shipping as a working example,
// since every JSON control envelope this core emits or consumes is
// transport-agnostic. Grounded on the pack's whisper-chat WebSocket
// server (other_examples, `internal/ws/server.go`): its
// `ws.UpgradeHTTP` + `wsutil` frame read/write pattern and its phased
// `Shutdown` (stop accepting, notify, drain with a deadline, force-close)
// survive; its Linux-epoll event loop does not — one goroutine per
// connection is the right trade for this core's connection counts, and
// avoids a build-time dependency on an epoll syscall shim no other
// example in the pack uses.
package httpws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/gatewaycore/core/internal/core/dispatch"
	"github.com/gatewaycore/core/internal/core/request"
	"github.com/gatewaycore/core/internal/corelog"
	"github.com/gatewaycore/core/internal/transport"
)

// Config tunes the carrier's HTTP server and per-connection limits.
type Config struct {
	ListenAddr   string
	ClientPath   string // default "/janus"
	AdminPath    string // default "/admin"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DrainTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8188",
		ClientPath:   "/janus",
		AdminPath:    "/admin",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

// Carrier is the reference transport.Carrier implementation: a WebSocket
// per client or admin connection, each with its own read goroutine that
// decodes JSON envelopes and enqueues them on the shared dispatcher.
type Carrier struct {
	cfg  Config
	disp *dispatch.Dispatcher
	log  *slog.Logger

	httpServer *http.Server

	mu       sync.Mutex
	conns    map[string]*conn
	draining bool
}

type conn struct {
	id    string
	admin bool
	nc    netConnWriter

	mu sync.Mutex // serializes writes, one frame at a time
}

// netConnWriter is the subset of net.Conn the carrier needs, narrowed so
// tests can substitute a fake without a real socket.
type netConnWriter interface {
	Write(b []byte) (int, error)
	Close() error
}

// New builds a Carrier. disp is the shared dispatcher every inbound
// envelope, client or admin, is enqueued onto — routing between the two
// channels is the composite Router's job, not this carrier's.
func New(cfg Config, disp *dispatch.Dispatcher) *Carrier {
	if cfg.ClientPath == "" {
		cfg.ClientPath = "/janus"
	}
	if cfg.AdminPath == "" {
		cfg.AdminPath = "/admin"
	}
	c := &Carrier{
		cfg:   cfg,
		disp:  disp,
		log:   corelog.With("httpws"),
		conns: make(map[string]*conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.ClientPath, c.handleUpgrade(false))
	mux.HandleFunc(cfg.AdminPath, c.handleUpgrade(true))
	c.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return c
}

// ListenAndServe blocks serving HTTP/WebSocket upgrades until Shutdown is
// called.
func (c *Carrier) ListenAndServe() error {
	c.log.Info("listening", "addr", c.cfg.ListenAddr)
	if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpws: serve: %w", err)
	}
	return nil
}

func (c *Carrier) handleUpgrade(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		draining := c.draining
		c.mu.Unlock()
		if draining {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		netConn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			c.log.Warn("upgrade failed", "err", err)
			return
		}

		cn := &conn{id: uuid.NewString(), admin: admin, nc: netConn}
		c.mu.Lock()
		c.conns[cn.id] = cn
		c.mu.Unlock()

		binding := transport.NewBinding(c, cn)
		binding.Hold()

		go c.readLoop(netConn, cn, binding)
	}
}

func (c *Carrier) readLoop(netConn net.Conn, cn *conn, binding *transport.Binding) {
	defer c.removeConn(cn, binding)

	for {
		data, op, err := wsutil.ReadClientData(netConn)
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		c.dispatchFrame(data, cn, binding)
	}
}

func (c *Carrier) dispatchFrame(data []byte, cn *conn, binding *transport.Binding) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return // malformed frame, no transaction to reply with; drop
	}

	var sessionID, handleID uint64
	var transaction string
	if raw, ok := root["session_id"]; ok {
		_ = json.Unmarshal(raw, &sessionID)
	}
	if raw, ok := root["handle_id"]; ok {
		_ = json.Unmarshal(raw, &handleID)
	}
	if raw, ok := root["transaction"]; ok {
		_ = json.Unmarshal(raw, &transaction)
	}

	req := request.New(binding, transaction, cn.admin, root, sessionID, handleID, nil)
	if err := c.disp.Enqueue(req); err != nil {
		_ = binding.Send(transaction, cn.admin, map[string]any{
			"janus": "error", "transaction": transaction,
			"error": map[string]any{"code": 491, "reason": "Internal error (queue full)"},
		})
		req.Destroy()
	}
}

func (c *Carrier) removeConn(cn *conn, binding *transport.Binding) {
	c.mu.Lock()
	_, ok := c.conns[cn.id]
	delete(c.conns, cn.id)
	c.mu.Unlock()
	if !ok {
		return
	}
	binding.MarkGone()
	binding.Release()
	_ = cn.nc.Close()
}

// Shutdown stops accepting new upgrades, then force-closes every
// connection still open after DrainTimeout — the WS carrier has no
// graceful per-session drain of its own; that lives at the core level
// (session destroy / registry sweep), this only tears down sockets.
func (c *Carrier) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()
	_ = c.httpServer.Shutdown(shutdownCtx)

	c.mu.Lock()
	remaining := make([]*conn, 0, len(c.conns))
	for _, cn := range c.conns {
		remaining = append(remaining, cn)
	}
	c.mu.Unlock()
	for _, cn := range remaining {
		_ = cn.nc.Close()
	}
	return nil
}

// PackageString implements transport.Carrier.
func (c *Carrier) PackageString() string { return "carrier.httpws" }

// SendMessage implements transport.Carrier: writes payload as one
// WebSocket text frame. requestID is unused — HTTP/WS is full-duplex and
// multiplexed over one socket per connection, shared by every session
// created over it, so the envelope itself (not
// the transport) carries correlation.
func (c *Carrier) SendMessage(b *transport.Binding, _ any, _ bool, payload []byte) error {
	cn, ok := b.Opaque.(*conn)
	if !ok {
		return fmt.Errorf("httpws: binding has no connection")
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return wsutil.WriteServerMessage(cn.nc, ws.OpText, payload)
}

// SessionCreated implements transport.Carrier; this carrier tracks
// connections, not core sessions, so it is a no-op observation point.
func (c *Carrier) SessionCreated(*transport.Binding, uint64) {}

// SessionOver implements transport.Carrier: the core reports a session is
// gone (destroyed or timed out); close the socket if the binding still
// owns one.
func (c *Carrier) SessionOver(b *transport.Binding, _ uint64, _ bool) {
	cn, ok := b.Opaque.(*conn)
	if !ok {
		return
	}
	c.removeConn(cn, b)
}

// IsJanusAPIEnabled implements transport.Carrier.
func (c *Carrier) IsJanusAPIEnabled() bool { return c.cfg.ClientPath != "" }

// IsAdminAPIEnabled implements transport.Carrier.
func (c *Carrier) IsAdminAPIEnabled() bool { return c.cfg.AdminPath != "" }
