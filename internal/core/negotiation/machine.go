package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/sdpproc"
	"github.com/gatewaycore/core/api/wire"
)

// Clock lets tests substitute a fake time source for the spin-wait and
// gathering-wait deadlines without sleeping real wall-clock seconds.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time    { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// JSEPIn is the incoming {type, sdp, trickle?} object, client → module.
type JSEPIn struct {
	Type    string
	SDP     string
	Trickle *bool
}

// MessageResult is everything the caller (package session) needs to build
// the module's handle_message call and, on success, the outbound reply.
type MessageResult struct {
	Renegotiation bool
	StrippedSDP   string
	Simulcast     *wire.Simulcast
	Update        bool
	MediaCounts   sdpproc.MediaCounts
}

// Deps bundles the external collaborators the state machine calls
// through, so machine.go itself stays free of concrete wiring.
type Deps struct {
	SDP   sdpproc.Processor
	Clock Clock
	// CleaningWaitDeadline and PollInterval default to 3s/100ms (spec.md
	// §4.5, §9 Open Question 2) when zero.
	CleaningWaitDeadline time.Duration
	PollInterval         time.Duration

	// FullTrickle mirrors the process-wide config.Config.FullTrickle
	// tunable: when set, every renegotiation sets RESEND_TRICKLES.
	FullTrickle bool
}

func (d Deps) deadline() time.Duration {
	if d.CleaningWaitDeadline == 0 {
		return 3 * time.Second
	}
	return d.CleaningWaitDeadline
}

func (d Deps) poll() time.Duration {
	if d.PollInterval == 0 {
		return 100 * time.Millisecond
	}
	return d.PollInterval
}

func (d Deps) clock() Clock {
	if d.Clock == nil {
		return RealClock
	}
	return d.Clock
}

// MessageWithJSEP runs the client→module message-path-with-JSEP algorithm
// against h, up to (but not including) the module's own HandleMessage
// call — the caller invokes the module afterward with the returned
// MessageResult.
func MessageWithJSEP(ctx context.Context, h *registry.Handle, deps Deps, in JSEPIn) (*MessageResult, error) {
	switch in.Type {
	case "offer":
		Set(h, ProcessingOffer)
		Set(h, GotOffer)
		Clear(h, GotAnswer)
	case "answer":
		Set(h, GotAnswer)
	default:
		return nil, core.Wrap(wire.ErrJSEPUnknownType, fmt.Errorf("jsep type %q", in.Type))
	}

	if err := waitCleaningClear(ctx, h, deps); err != nil {
		return nil, err
	}

	counts, err := deps.SDP.Parse(in.SDP)
	if err != nil {
		return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
	}
	if counts.Audio > 0 {
		Set(h, HasAudio)
	}
	if counts.Video > 0 {
		Set(h, HasVideo)
	}
	if counts.Data > 0 {
		Set(h, DataChannels)
	}

	renegotiation := Has(h, Ready) && !Has(h, Alert)

	if !renegotiation {
		if in.Type == "offer" {
			if err := h.Agent.SetupLocal(ctx, counts.Audio > 0, counts.Video > 0, counts.Data > 0, in.Trickle == nil || *in.Trickle); err != nil {
				return nil, core.Wrap(wire.ErrInternal, err)
			}
			Set(h, iceEstablished)
		} else if !Has(h, iceEstablished) {
			return nil, core.Wrap(wire.ErrUnexpectedAnswer, fmt.Errorf("answer with no prior offer"))
		}

		if err := h.Agent.ProcessRemoteSDP(ctx, in.SDP, false); err != nil {
			return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
		}

		if in.Type == "answer" {
			Set(h, Trickle)
			AnswerTrickleDrain(ctx, h, deps)
		}
	} else {
		if err := h.Agent.ProcessRemoteSDP(ctx, in.SDP, true); err != nil {
			return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
		}
		if Has(h, ICERestart) {
			_ = h.Agent.PushNewCredentials()
			if in.Type == "offer" {
				_ = h.Agent.RestartICE()
			} else {
				Clear(h, ICERestart)
			}
		}
		if deps.FullTrickle {
			Set(h, ResendTrickles)
		}
		if Has(h, DataChannels) {
			_ = h.Agent.CreateSCTPAssociation()
		}
	}

	remoteAnon, err := deps.SDP.Anonymize(in.SDP)
	if err != nil {
		return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
	}
	h.Lock()
	h.RemoteSDP = remoteAnon
	h.Unlock()

	result := &MessageResult{
		Renegotiation: renegotiation,
		StrippedSDP:   remoteAnon,
		MediaCounts:   counts,
		Update:        renegotiation,
	}
	if in.Type == "offer" && counts.Video > 1 {
		result.Simulcast = &wire.Simulcast{SSRC0: 1}
	}
	return result, nil
}

// waitCleaningClear spin-waits in 100ms increments up to the configured
// deadline for the CLEANING flag to clear, matching the source's
// cooperative poll (spec.md §9's "spin-wait on CLEANING" design note).
func waitCleaningClear(ctx context.Context, h *registry.Handle, deps Deps) error {
	if !Has(h, Cleaning) {
		return nil
	}
	deadline := deps.deadline()
	waited := time.Duration(0)
	for Has(h, Cleaning) {
		select {
		case <-ctx.Done():
			return core.Wrap(wire.ErrWebRTCState, ctx.Err())
		default:
		}
		if waited >= deadline {
			return core.Newf(wire.ErrWebRTCState, "still cleaning after %s", deadline)
		}
		deps.clock().Sleep(deps.poll())
		waited += deps.poll()
	}
	return nil
}

// AnswerTrickleDrain walks the pending-trickles list in order, dropping
// entries older than the buffer TTL and applying the rest through the ICE
// collaborator (spec.md §4.5's "Answer-trickle drain").
func AnswerTrickleDrain(ctx context.Context, h *registry.Handle, deps Deps) {
	Clear(h, ProcessingOffer)

	// Collect keys first so we don't mutate the store mid-iteration.
	var keys []string
	h.Trickles.ForEach(func(key string, _ registry.BufferedTrickle) bool {
		keys = append(keys, key)
		return true
	})

	for _, key := range keys {
		entry, ok := h.Trickles.GetEntry(key)
		if !ok {
			continue
		}
		h.Trickles.Delete(key)
		if entry.IsExpired() {
			continue // stale entries (age > 45s) dropped silently
		}
		applyBufferedCandidate(h, entry.Value.Candidate)
	}

	if Has(h, Trickle) && !Has(h, AllTrickles) {
		// ICE awaits more candidates arriving via the trickle verb.
	} else {
		_ = h.Agent.SetupRemoteCandidates()
	}
}

func applyBufferedCandidate(h *registry.Handle, payload []byte) {
	var probe json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return
	}
	trimmed := trimLeadingSpace(probe)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(payload, &arr); err != nil {
			return
		}
		for _, c := range arr {
			_ = h.Agent.ApplyRemoteCandidate(c) // parse failures on array elements are ignored
		}
		return
	}
	_ = h.Agent.ApplyRemoteCandidate(payload)
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
