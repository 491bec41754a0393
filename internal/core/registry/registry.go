// Package registry implements the session/handle registry and idle
// sweeper (spec.md §4.1): keyed maps of sessions and per-session handles,
// monotonic activity clocks, and a 2-second sweep that times out idle
// sessions. Grounded on dialog.Manager's CreateFromInvite/terminate and
// its watchACKTimeout goroutine — the ACK-timeout watcher is the direct
// ancestor of the idle sweeper: a per-entity deadline check that CASes a
// terminal flag and runs the same teardown path a normal close would.
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatewaycore/core/internal/core/iceagent"
	"github.com/gatewaycore/core/internal/core/module"
	"github.com/gatewaycore/core/internal/core/refcount"
	"github.com/gatewaycore/core/internal/core/store"
	"github.com/gatewaycore/core/internal/transport"
)

// Handle is one peer-connection attachment to a media module, within a
// Session (spec.md §3).
type Handle struct {
	refcount.Counted

	ID       uint64
	Session  *Session // non-owning back-pointer; the Session's map is the owning reference
	Module   module.Module
	ModSess  any // opaque module-handle returned by Module.CreateSession
	OpaqueID string

	Agent iceagent.Agent

	mu        sync.Mutex
	Flags     uint64 // negotiation flag bitmask, owned by package negotiation
	LocalSDP  string
	RemoteSDP string

	Trickles *store.TTLStore[string, BufferedTrickle]
}

// BufferedTrickle is a pending ICE candidate recorded before it could be
// applied (spec.md §3's "Trickle candidate (buffered)").
type BufferedTrickle struct {
	Transaction string
	Candidate   []byte // JSON object or array, as received
	ReceivedAt  time.Time
}

// Lock/Unlock expose the handle's mutex to package negotiation, which owns
// the flag-mutation logic but must not duplicate the lock.
func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// Session is a long-lived client context (spec.md §3).
type Session struct {
	refcount.Counted

	ID        uint64
	CreatedAt time.Time

	lastActivity atomic.Int64 // unix nanoseconds
	timeout      atomic.Bool

	Binding *transport.Binding

	mu      sync.RWMutex
	handles map[uint64]*Handle
}

// Touch bumps last-activity to now; called on every authorized inbound
// verb naming this session (spec.md §3 invariant b).
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last-touched time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// TimedOut reports whether the sweeper has already flipped this session's
// timeout latch.
func (s *Session) TimedOut() bool {
	return s.timeout.Load()
}

// Handles returns a snapshot slice of the session's current handles.
func (s *Session) Handles() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Handle looks up one handle by id.
func (s *Session) Handle(id uint64) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// HandleCount reports the number of attached handles.
func (s *Session) HandleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// addHandle inserts a handle the session now owns.
func (s *Session) addHandle(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.ID] = h
}

// removeHandle drops a handle from the session's map, reporting whether it
// was present.
func (s *Session) removeHandle(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; !ok {
		return false
	}
	delete(s.handles, id)
	return true
}

// ErrSessionConflict is returned by CreateSession when id_hint names a
// session already present.
type ErrSessionConflict struct{ ID uint64 }

func (e *ErrSessionConflict) Error() string { return "session id already in use" }

// Registry is the global sessions map plus the idle sweeper.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session

	sessionTimeout atomic.Int64 // nanoseconds; 0 disables the sweeper
	sweepInterval  time.Duration

	onTimeout func(s *Session) // sweeper → dispatch's event + transport notification hook
	onEvict   func(s *Session) // fired after a session is fully torn down

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Registry and starts its sweeper goroutine.
func New(sessionTimeout time.Duration, sweepInterval time.Duration) *Registry {
	r := &Registry{
		sessions:      make(map[uint64]*Session),
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	r.sessionTimeout.Store(int64(sessionTimeout))
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// SetOnTimeout installs the callback invoked (once, by the sweeper) for
// every session it times out, before the map entry is removed and before
// DestroySession tears down its handles.
func (r *Registry) SetOnTimeout(fn func(s *Session)) { r.onTimeout = fn }

// SetOnEvict installs the callback invoked after any session (timed out or
// explicitly destroyed) has left the map.
func (r *Registry) SetOnEvict(fn func(s *Session)) { r.onEvict = fn }

// SetSessionTimeout changes the live idle-timeout tunable; 0 disables the
// sweep.
func (r *Registry) SetSessionTimeout(d time.Duration) {
	r.sessionTimeout.Store(int64(d))
}

// CreateSession inserts a new Session. If idHint is zero a random id is
// generated, retrying on collision; otherwise idHint is used verbatim or
// ErrSessionConflict is returned. The returned session carries a single
// reference, the registry's own (the one DestroySession drops); no extra
// reference is taken on the caller's behalf.
func (r *Registry) CreateSession(idHint uint64, binding *transport.Binding) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint64
	if idHint != 0 {
		if _, exists := r.sessions[idHint]; exists {
			return nil, &ErrSessionConflict{ID: idHint}
		}
		id = idHint
	} else {
		for {
			id = randomID()
			if _, exists := r.sessions[id]; !exists {
				break
			}
		}
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Binding:   binding,
		handles:   make(map[uint64]*Handle),
	}
	s.Touch()
	s.Hold() // the registry's own strong reference
	r.sessions[id] = s
	return s, nil
}

// FindSession looks a session up by id, bumping its reference count on
// hit.
func (r *Registry) FindSession(id uint64) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.Hold()
	return s, true
}

// DestroySession flips the session's destroyed latch (idempotent via
// BeginDestroy's CAS), tears down its handles, and drops the registry's
// reference. It does not remove the map entry — RemoveSession does that,
// under the map lock, so the removal is observable atomically and callers
// control ordering relative to other map operations (spec.md §4.1).
func (r *Registry) DestroySession(s *Session, teardownHandle func(*Handle)) {
	if !s.BeginDestroy() {
		return // already destroyed; idempotent no-op
	}
	for _, h := range s.Handles() {
		if teardownHandle != nil {
			teardownHandle(h)
		}
		s.removeHandle(h.ID)
		h.Trickles.Close()
		h.Release()
	}
	s.Release() // drop the registry's strong reference
}

// RemoveSession deletes the map entry for id iff its pointer matches s,
// under the registry's lock, making the removal observably atomic with
// any concurrent lookup.
func (r *Registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.ID]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	if r.onEvict != nil {
		r.onEvict(s)
	}
	return true
}

// AttachHandle allocates a new handle id and inserts the handle into the
// session's handle map.
func (r *Registry) AttachHandle(s *Session, mod module.Module, agent iceagent.Agent, opaqueID string, trickleTTL time.Duration) *Handle {
	h := &Handle{
		ID:       randomID(),
		Session:  s,
		Module:   mod,
		OpaqueID: opaqueID,
		Agent:    agent,
		Trickles: store.New[string, BufferedTrickle](trickleTTL / 3),
	}
	h.Hold() // the session's strong reference
	s.addHandle(h)
	return h
}

// DetachHandle removes a handle from its session's map and releases the
// session's reference on it. Callers tear down the module/ICE side before
// calling this.
func (r *Registry) DetachHandle(h *Handle) bool {
	if !h.Session.removeHandle(h.ID) {
		return false
	}
	h.Trickles.Close()
	h.Release()
	return true
}

// ListSessions returns a snapshot of every live session, for the admin
// list_sessions verb.
func (r *Registry) ListSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the sweeper goroutine.
func (r *Registry) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep walks the sessions map, collecting timed-out ids under RLock
// first, then processes each one without holding any map lock, and
// finally removes it from the map via RemoveSession. Never deletes from
// the map while ranging over it (Open Question 1): the collect and the
// mutate are two separate passes.
func (r *Registry) sweep() {
	timeout := time.Duration(r.sessionTimeout.Load())
	if timeout == 0 {
		return
	}

	now := time.Now()
	r.mu.RLock()
	var stale []*Session
	for _, s := range r.sessions {
		if s.TimedOut() {
			continue
		}
		if now.Sub(s.LastActivity()) >= timeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		if !s.timeout.CompareAndSwap(false, true) {
			continue // a concurrent keepalive or sweep tick already claimed it
		}
		if r.onTimeout != nil {
			r.onTimeout(s)
		}
		r.RemoveSession(s)
		r.DestroySession(s, nil)
	}
}

func randomID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	id := binary.BigEndian.Uint64(b[:])
	if id == 0 {
		id = 1
	}
	return id
}
