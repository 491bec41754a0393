// Package iceagent names the ICE/DTLS/SRTP collaborator the negotiation
// state machine drives but never implements itself (spec.md §1 keeps that
// machinery an external collaborator). Agent is the narrow interface the
// core calls through; LocalAgent is an in-memory reference implementation
// good enough to drive tests without a real network stack.
//
// The interface shape is grounded on the teacher's mediaclient.Transport
// (a small set of session-scoped verbs behind one interface, checked with
// Ready() before use) generalized from a gRPC-backed remote media client
// to an ICE/DTLS agent's local call surface — the pairing that would have
// used google.golang.org/grpc in the teacher is, here, a plain Go interface
// (see DESIGN.md's "dropped teacher dependencies" for why the RPC framing
// itself was not carried over).
package iceagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Agent is the per-handle ICE/DTLS/SRTP collaborator.
type Agent interface {
	// SetupLocal performs fresh local ICE setup ahead of a first offer or
	// answer, given which media lines were negotiated.
	SetupLocal(ctx context.Context, audio, video, data, trickle bool) error

	// ProcessRemoteSDP hands the collaborator the pre-parsed remote SDP, in
	// either initial-negotiation or renegotiation mode.
	ProcessRemoteSDP(ctx context.Context, sdp string, renegotiation bool) error

	// PushNewCredentials installs fresh ICE ufrag/pwd ahead of a restart.
	PushNewCredentials() error
	// RestartICE restarts the ICE session (offer side of an ICE restart).
	RestartICE() error

	// ApplyRemoteCandidate parses and applies one candidate (a single
	// object, as decoded from the trickle verb or the drain path).
	ApplyRemoteCandidate(candidate json.RawMessage) error
	// SetupRemoteCandidates is invoked instead of per-candidate application
	// when ALL_TRICKLES is set and trickling is effectively disabled.
	SetupRemoteCandidates() error

	// GatheringDone reports whether local candidate gathering has produced
	// at least one candidate (spec's "cdone >= 1"), polled at 100ms.
	GatheringDone() bool

	// CreateSCTPAssociation is invoked when data channels are newly
	// negotiated on a renegotiation.
	CreateSCTPAssociation() error

	// Hangup tears down the PeerConnection with a human reason.
	Hangup(reason string) error
	// ClosePC is the module-requested variant of Hangup with no reason text.
	ClosePC() error

	// LocalCredentials returns the agent's current ICE ufrag/pwd, merged
	// into outbound SDP by package sdpproc. Empty until SetupLocal runs.
	LocalCredentials() (ufrag, pwd string)
	// Fingerprint returns the DTLS certificate fingerprint merged into
	// outbound SDP, in "sha-256 AA:BB:..." form.
	Fingerprint() string

	// GatheredCandidates returns the local ICE candidates gathered so far,
	// as raw SDP "candidate" attribute values (without the leading
	// "a=candidate:"), for sdpproc to embed directly into a merged SDP on
	// a half-trickle handle. Empty until gathering has produced at least
	// one candidate.
	GatheredCandidates() []string
	// NegotiatedPayloadTypes returns the payload type numbers parsed from
	// the remote SDP's media lines, for sdpproc.ChooseRTXPayloads to scan
	// an RFC4588 retransmission companion PT for each.
	NegotiatedPayloadTypes() []int

	// RelayRTP/RelayRTCP/RelayData forward the fast path. They never
	// return an error: the caller (module-facing callback) silently drops
	// on failure, per spec.md §4.7.
	RelayRTP(isVideo bool, buf []byte)
	RelayRTCP(isVideo bool, buf []byte)
	RelayData(buf []byte)
}

// LocalAgent is a reference Agent good for tests and for modules that
// don't need a real ICE stack (e.g. an echo module exercised entirely
// in-process). Gathering completes instantly; RelayRTP parses the header
// with pion/rtp to validate it before silently dropping the payload,
// mirroring the teacher's RTPStreamWriter's pion/rtp.Packet use,
// generalized from "synthesize and send" to "parse and validate inbound".
type LocalAgent struct {
	mu       sync.Mutex
	gathered atomic.Bool

	localSDP    string
	remoteSDP   string
	credentials string
	fingerprint string

	candidates    []string
	negotiatedPTs []int

	closed atomic.Bool
}

// NewLocalAgent constructs a LocalAgent ready for SetupLocal.
func NewLocalAgent() *LocalAgent {
	return &LocalAgent{fingerprint: randomFingerprint()}
}

func (a *LocalAgent) SetupLocal(_ context.Context, _, _, _, _ bool) error {
	if a.closed.Load() {
		return fmt.Errorf("iceagent: setup on closed agent")
	}
	a.mu.Lock()
	if a.credentials == "" {
		a.credentials = randomCredential()
	}
	a.candidates = []string{fmt.Sprintf("1 1 UDP 2130706431 127.0.0.1 %d typ host", 20000+candidateCounter.Add(1))}
	a.mu.Unlock()
	a.gathered.Store(true) // no real network I/O to wait on
	return nil
}

// GatheredCandidates returns the fabricated host candidate produced by
// SetupLocal, good enough to exercise sdpproc's half-trickle merge path
// without a real ICE stack.
func (a *LocalAgent) GatheredCandidates() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.candidates...)
}

// NegotiatedPayloadTypes returns the payload type numbers parsed from the
// remote SDP's media lines during ProcessRemoteSDP.
func (a *LocalAgent) NegotiatedPayloadTypes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.negotiatedPTs...)
}

// LocalCredentials returns the ufrag/pwd pair merged into outbound SDP.
// This reference agent treats both halves of the pair as the same opaque
// token — a real ICE agent keeps them distinct.
func (a *LocalAgent) LocalCredentials() (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.credentials, a.credentials
}

func (a *LocalAgent) Fingerprint() string {
	return a.fingerprint
}

func (a *LocalAgent) ProcessRemoteSDP(_ context.Context, sdp string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remoteSDP = sdp
	a.negotiatedPTs = parsePayloadTypes(sdp)
	return nil
}

// parsePayloadTypes scans "m=" lines for the payload type numbers
// following the media/port/proto fields (e.g. "m=audio 9 UDP/TLS/RTP/SAVPF
// 111 0 8" yields [111, 0, 8]).
func parsePayloadTypes(sdp string) []int {
	var out []int
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "m=") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		for _, f := range fields[3:] {
			if pt, err := strconv.Atoi(f); err == nil {
				out = append(out, pt)
			}
		}
	}
	return out
}

func (a *LocalAgent) PushNewCredentials() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credentials = randomCredential()
	return nil
}

func (a *LocalAgent) RestartICE() error {
	a.gathered.Store(false)
	a.gathered.Store(true)
	return nil
}

func (a *LocalAgent) ApplyRemoteCandidate(candidate json.RawMessage) error {
	if len(candidate) == 0 {
		return fmt.Errorf("iceagent: empty candidate")
	}
	var v any
	return json.Unmarshal(candidate, &v)
}

func (a *LocalAgent) SetupRemoteCandidates() error { return nil }

func (a *LocalAgent) GatheringDone() bool { return a.gathered.Load() }

func (a *LocalAgent) CreateSCTPAssociation() error { return nil }

func (a *LocalAgent) Hangup(_ string) error {
	a.closed.Store(true)
	return nil
}

func (a *LocalAgent) ClosePC() error {
	a.closed.Store(true)
	return nil
}

func (a *LocalAgent) RelayRTP(_ bool, buf []byte) {
	if a.closed.Load() {
		return
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return
	}
	// Reference collaborator: validated, then discarded. A real agent
	// forwards pkt onward to the SRTP/NACK-queue machinery this spec
	// deliberately keeps out of scope.
}

func (a *LocalAgent) RelayRTCP(_ bool, _ []byte) {
	if a.closed.Load() {
		return
	}
}

func (a *LocalAgent) RelayData(_ []byte) {
	if a.closed.Load() {
		return
	}
}

var candidateCounter atomic.Uint64

var credentialCounter atomic.Uint64

func randomCredential() string {
	return fmt.Sprintf("ice-cred-%d", credentialCounter.Add(1))
}

var fingerprintCounter atomic.Uint64

func randomFingerprint() string {
	n := fingerprintCounter.Add(1)
	parts := make([]string, 8)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", byte(n>>(56-8*i)))
	}
	return "sha-256 " + strings.Join(parts, ":")
}
