// Package events implements the notify_event fan-out subsystem: every
// session/handle lifecycle transition and every module-originated
// notify_event call is wrapped into an Event and handed to a Publisher.
// Grounded on the teacher's events.Builder (uuid-tagged, fluent event
// construction) and services/signaling/events/publisher.go's Publisher
// interface family (Noop/Logging/Channel/Multi), generalized from a
// SIP-call-lifecycle event set to the spec's session/handle/module event
// kinds.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the event-subsystem categories the core emits.
type Kind string

const (
	KindSessionCreated  Kind = "session_created"
	KindSessionDestroyed Kind = "session_destroyed"
	KindSessionTimeout  Kind = "session_timeout"
	KindHandleAttached  Kind = "handle_attached"
	KindHandleDetached  Kind = "handle_detached"
	KindJSEP            Kind = "jsep"
	KindWebRTCState     Kind = "webrtc_state"
	KindModule          Kind = "module" // module-originated notify_event
)

// Event is one fan-out record.
type Event struct {
	ID        string
	Kind      Kind
	Time      time.Time
	SessionID uint64
	HandleID  uint64 // 0 when not handle-scoped
	Module    string // populated for KindModule
	OpaqueID  string
	Body      map[string]any
}

// NewEvent stamps a fresh id and timestamp.
func NewEvent(kind Kind, sessionID, handleID uint64, body map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Time:      time.Now().UTC(),
		SessionID: sessionID,
		HandleID:  handleID,
		Body:      body,
	}
}

// Publisher is the event-handler carrier's interface — named external
// collaborator per spec.md §1 ("the event-handler carriers" are out of
// scope); the core only ever talks to this interface.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}
func (NoopPublisher) Close() error                   { return nil }

// LoggingPublisher logs every event at debug level, tagged component=events.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(_ context.Context, e Event) {
	p.logger.Debug("event", "kind", e.Kind, "session_id", e.SessionID, "handle_id", e.HandleID, "id", e.ID)
}

func (p *LoggingPublisher) Close() error { return nil }

// ChannelPublisher buffers events for consumption by query_eventhandler
// and by tests; full buffers drop the event and bump DroppedCount, never
// block the caller (an event-handler carrier backing up must never stall
// the core).
type ChannelPublisher struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int64
}

func NewChannelPublisher(bufferSize int) *ChannelPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelPublisher{ch: make(chan Event, bufferSize)}
}

func (p *ChannelPublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.ch <- e:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}

func (p *ChannelPublisher) Events() <-chan Event { return p.ch }

func (p *ChannelPublisher) DroppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// MultiPublisher fans out to every configured event-handler carrier.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, e Event) {
	for _, pub := range p.publishers {
		pub.Publish(ctx, e)
	}
}

func (p *MultiPublisher) Close() error {
	var lastErr error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
