package negotiation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	core "github.com/gatewaycore/core/internal/core"
	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/api/wire"
)

// TrickleIn is the decoded trickle verb payload: exactly one of Candidate
// or Candidates must be non-empty.
type TrickleIn struct {
	Transaction string
	Candidate   json.RawMessage
	Candidates  json.RawMessage
}

var bufferCounter atomic.Uint64

func nextBufferKey() string {
	return strconv.FormatUint(bufferCounter.Add(1), 10)
}

// Trickle runs spec.md §4.5's trickle verb algorithm: validates the
// candidate/candidates shape, buffers when the handle can't apply yet, and
// otherwise applies directly through the ICE collaborator.
func Trickle(h *registry.Handle, in TrickleIn, trickleTTL time.Duration) error {
	if Has(h, Cleaning) {
		return core.Wrap(wire.ErrWebRTCState, fmt.Errorf("still cleaning"))
	}
	if len(in.Candidate) > 0 && len(in.Candidates) > 0 {
		return core.Wrap(wire.ErrInvalidJSON, fmt.Errorf("both candidate and candidates present"))
	}
	payload := in.Candidate
	if len(payload) == 0 {
		payload = in.Candidates
	}
	if len(payload) == 0 {
		return core.Wrap(wire.ErrInvalidJSON, fmt.Errorf("missing candidate(s)"))
	}

	if !Has(h, Trickle) {
		Set(h, Trickle)
	}

	mustBuffer := !Has(h, iceEstablished) ||
		Has(h, ProcessingOffer) ||
		!Has(h, GotOffer) ||
		!Has(h, GotAnswer)

	if mustBuffer {
		h.Trickles.Set(nextBufferKey(), registry.BufferedTrickle{
			Transaction: in.Transaction,
			Candidate:   payload,
			ReceivedAt:  time.Now(),
		}, trickleTTL)
		return nil
	}

	applyBufferedCandidate(h, payload)
	return nil
}
