package negotiation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gatewaycore/core/internal/core/registry"
	"github.com/gatewaycore/core/internal/core/sdpproc"
	"github.com/gatewaycore/core/internal/core/store"
)

type fakeAgent struct {
	setupCalls   int
	gathered     bool
	applied      []json.RawMessage
	setupRemote  int
}

func (a *fakeAgent) SetupLocal(context.Context, bool, bool, bool, bool) error {
	a.setupCalls++
	return nil
}
func (a *fakeAgent) ProcessRemoteSDP(context.Context, string, bool) error { return nil }
func (a *fakeAgent) PushNewCredentials() error                           { return nil }
func (a *fakeAgent) RestartICE() error                                   { return nil }
func (a *fakeAgent) ApplyRemoteCandidate(c json.RawMessage) error {
	a.applied = append(a.applied, c)
	return nil
}
func (a *fakeAgent) SetupRemoteCandidates() error { a.setupRemote++; return nil }
func (a *fakeAgent) GatheringDone() bool          { return a.gathered }
func (a *fakeAgent) CreateSCTPAssociation() error { return nil }
func (a *fakeAgent) Hangup(string) error          { return nil }
func (a *fakeAgent) ClosePC() error               { return nil }
func (a *fakeAgent) RelayRTP(bool, []byte)        {}
func (a *fakeAgent) RelayRTCP(bool, []byte)       {}
func (a *fakeAgent) RelayData([]byte)             {}
func (a *fakeAgent) LocalCredentials() (string, string) { return "ufrag", "pwd" }
func (a *fakeAgent) Fingerprint() string                { return "sha-256 AA:BB" }
func (a *fakeAgent) GatheredCandidates() []string        { return nil }
func (a *fakeAgent) NegotiatedPayloadTypes() []int       { return nil }

type fakeSDP struct{}

func (fakeSDP) Parse(string) (sdpproc.MediaCounts, error) {
	return sdpproc.MediaCounts{Audio: 1}, nil
}
func (fakeSDP) Anonymize(sdp string) (string, error) { return "anon:" + sdp, nil }
func (fakeSDP) Merge(sdp string, _ sdpproc.MergeOptions) (string, error) {
	return "merged:" + sdp, nil
}
func (fakeSDP) ChooseRTXPayloads(negotiated []int) map[int]int { return nil }

func newTestHandle(agent *fakeAgent) *registry.Handle {
	r := registry.New(0, time.Hour)
	defer r.Close()
	s, _ := r.CreateSession(1, nil)
	return r.AttachHandle(s, nil, agent, "", time.Minute)
}

func TestMessageWithJSEPFreshOffer(t *testing.T) {
	agent := &fakeAgent{gathered: true}
	h := newTestHandle(agent)
	deps := Deps{SDP: fakeSDP{}}

	res, err := MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "offer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("MessageWithJSEP: %v", err)
	}
	if res.Renegotiation {
		t.Fatal("first offer should not be a renegotiation")
	}
	if agent.setupCalls != 1 {
		t.Fatalf("SetupLocal calls = %d, want 1", agent.setupCalls)
	}
	if !Has(h, GotOffer) {
		t.Fatal("GOT_OFFER should be set")
	}
	if h.RemoteSDP != "anon:v=0" {
		t.Fatalf("RemoteSDP = %q", h.RemoteSDP)
	}
}

// TestMessageWithJSEPRenegotiationSetsResendTricklesWhenFullTrickleEnabled
// covers spec.md §4.5's "If full-trickle is globally enabled, set
// RESEND_TRICKLES" renegotiation rule.
func TestMessageWithJSEPRenegotiationSetsResendTricklesWhenFullTrickleEnabled(t *testing.T) {
	agent := &fakeAgent{gathered: true}
	h := newTestHandle(agent)
	Set(h, Ready)

	if _, err := MessageWithJSEP(context.Background(), h, Deps{SDP: fakeSDP{}}, JSEPIn{Type: "offer", SDP: "v=0"}); err != nil {
		t.Fatalf("MessageWithJSEP (no full-trickle): %v", err)
	}
	if Has(h, ResendTrickles) {
		t.Fatal("RESEND_TRICKLES should not be set when full-trickle is disabled")
	}

	if _, err := MessageWithJSEP(context.Background(), h, Deps{SDP: fakeSDP{}, FullTrickle: true}, JSEPIn{Type: "offer", SDP: "v=0"}); err != nil {
		t.Fatalf("MessageWithJSEP (full-trickle): %v", err)
	}
	if !Has(h, ResendTrickles) {
		t.Fatal("RESEND_TRICKLES should be set on a renegotiation when full-trickle is globally enabled")
	}
}

func TestMessageWithJSEPUnknownType(t *testing.T) {
	h := newTestHandle(&fakeAgent{})
	_, err := MessageWithJSEP(context.Background(), h, Deps{SDP: fakeSDP{}}, JSEPIn{Type: "weird"})
	if err == nil {
		t.Fatal("expected an error for an unknown JSEP type")
	}
}

func TestMessageWithJSEPAnswerWithoutOfferRejected(t *testing.T) {
	h := newTestHandle(&fakeAgent{gathered: true})
	_, err := MessageWithJSEP(context.Background(), h, Deps{SDP: fakeSDP{}}, JSEPIn{Type: "answer", SDP: "v=0"})
	if err == nil {
		t.Fatal("expected UNEXPECTED_ANSWER when no offer preceded the answer")
	}
}

func TestTrickleBuffersBeforeAnswer(t *testing.T) {
	agent := &fakeAgent{gathered: true}
	h := newTestHandle(agent)
	deps := Deps{SDP: fakeSDP{}}

	if _, err := MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "offer", SDP: "v=0"}); err != nil {
		t.Fatalf("offer: %v", err)
	}

	cand := json.RawMessage(`{"candidate":"foo"}`)
	if err := Trickle(h, TrickleIn{Transaction: "t1", Candidate: cand}, time.Minute); err != nil {
		t.Fatalf("Trickle: %v", err)
	}
	if h.Trickles.Len() != 1 {
		t.Fatalf("expected 1 buffered trickle, got %d", h.Trickles.Len())
	}
	if len(agent.applied) != 0 {
		t.Fatal("candidate should not be applied yet (no answer received)")
	}

	if _, err := MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "answer", SDP: "v=0"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if h.Trickles.Len() != 0 {
		t.Fatal("pending trickles should be drained once the answer lands")
	}
	if len(agent.applied) != 1 {
		t.Fatalf("expected the buffered candidate to be applied, got %d applies", len(agent.applied))
	}
}

func TestTrickleRejectsBothCandidateFields(t *testing.T) {
	h := newTestHandle(&fakeAgent{})
	err := Trickle(h, TrickleIn{
		Candidate:  json.RawMessage(`{}`),
		Candidates: json.RawMessage(`[]`),
	}, time.Minute)
	if err == nil {
		t.Fatal("expected a rejection when both candidate and candidates are present")
	}
}

func TestTrickleAppliesDirectlyOnceReady(t *testing.T) {
	agent := &fakeAgent{gathered: true}
	h := newTestHandle(agent)
	deps := Deps{SDP: fakeSDP{}}
	MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "offer", SDP: "v=0"})
	MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "answer", SDP: "v=0"})

	if err := Trickle(h, TrickleIn{Candidate: json.RawMessage(`{"a":1}`)}, time.Minute); err != nil {
		t.Fatalf("Trickle: %v", err)
	}
	if len(agent.applied) != 1 {
		t.Fatalf("expected the direct candidate to be applied immediately, got %d", len(agent.applied))
	}
}

func TestWaitCleaningClearTimesOut(t *testing.T) {
	h := newTestHandle(&fakeAgent{gathered: true})
	Set(h, Cleaning)
	deps := Deps{SDP: fakeSDP{}, CleaningWaitDeadline: 30 * time.Millisecond, PollInterval: 10 * time.Millisecond}

	_, err := MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "offer", SDP: "v=0"})
	if err == nil {
		t.Fatal("expected WEBRTC_STATE once the cleaning-wait deadline elapses")
	}
}

var _ = store.TTLStore[string, int]{}
