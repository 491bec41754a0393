package negotiation

import (
	"context"
	"fmt"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/sdpproc"
	"github.com/gatewaycore/core/api/wire"
)

// ModuleJSEPIn is the {type, sdp} object a module hands the core to push
// toward the client (spec.md §4.5 "Module-initiated JSEP").
type ModuleJSEPIn struct {
	Type string
	SDP  string
}

// ModuleJSEPOut is the merged local SDP to attach as the outbound event's
// jsep field.
type ModuleJSEPOut struct {
	Type string
	SDP  string
}

// ModuleInitiatedJSEP runs the module→client JSEP path: cleaning wait,
// offer-vs-renegotiation ICE setup, gathering-done wait, anonymize, merge,
// store as local SDP, and — for an answer with pending trickles — drain.
func ModuleInitiatedJSEP(ctx context.Context, h *registry.Handle, deps Deps, merge sdpproc.MergeOptions, in ModuleJSEPIn) (*ModuleJSEPOut, error) {
	if err := waitCleaningClear(ctx, h, deps); err != nil {
		return nil, err
	}

	counts, err := deps.SDP.Parse(in.SDP)
	if err != nil {
		return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
	}

	renegotiation := Has(h, Ready) && !Has(h, Alert)
	if !renegotiation && in.Type == "offer" {
		if err := h.Agent.SetupLocal(ctx, counts.Audio > 0, counts.Video > 0, counts.Data > 0, true); err != nil {
			return nil, core.Wrap(wire.ErrInternal, err)
		}
		Set(h, iceEstablished)
	}

	if err := waitGatheringDone(ctx, h, deps); err != nil {
		return nil, err
	}

	merged, err := deps.SDP.Merge(in.SDP, merge)
	if err != nil {
		return nil, core.Wrap(wire.ErrJSEPInvalidSDP, err)
	}

	h.Lock()
	h.LocalSDP = merged
	h.Unlock()

	if in.Type == "answer" {
		AnswerTrickleDrain(ctx, h, deps)
	}

	return &ModuleJSEPOut{Type: in.Type, SDP: merged}, nil
}

// waitGatheringDone polls GatheringDone every 100ms with no deadline other
// than context cancellation or the handle's STOP/ALERT flags flipping,
// matching spec.md §4.5's "unbounded, with cancellation via STOP/ALERT".
func waitGatheringDone(ctx context.Context, h *registry.Handle, deps Deps) error {
	for !h.Agent.GatheringDone() {
		if Has(h, Stop) || Has(h, Alert) {
			return core.Wrap(wire.ErrWebRTCState, fmt.Errorf("handle stopped while gathering"))
		}
		select {
		case <-ctx.Done():
			return core.Wrap(wire.ErrWebRTCState, ctx.Err())
		default:
		}
		deps.clock().Sleep(deps.poll())
	}
	return nil
}
