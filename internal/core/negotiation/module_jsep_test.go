package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/gatewaycore/core/internal/core/sdpproc"
)

func TestModuleInitiatedJSEPOfferWaitsForGathering(t *testing.T) {
	agent := &fakeAgent{gathered: false}
	h := newTestHandle(agent)
	deps := Deps{SDP: fakeSDP{}, PollInterval: 5 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		out, err := ModuleInitiatedJSEP(context.Background(), h, deps, sdpproc.MergeOptions{}, ModuleJSEPIn{Type: "offer", SDP: "v=0"})
		if err != nil {
			t.Errorf("ModuleInitiatedJSEP: %v", err)
		}
		if out == nil || out.SDP != "merged:v=0" {
			t.Errorf("unexpected result: %+v", out)
		}
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	agent.gathered = true

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ModuleInitiatedJSEP did not return after gathering completed")
	}
	if agent.setupCalls != 1 {
		t.Fatalf("SetupLocal calls = %d, want 1", agent.setupCalls)
	}
	if h.LocalSDP != "merged:v=0" {
		t.Fatalf("LocalSDP = %q", h.LocalSDP)
	}
}

func TestModuleInitiatedJSEPStopAbortsGatheringWait(t *testing.T) {
	agent := &fakeAgent{gathered: false}
	h := newTestHandle(agent)
	Set(h, Stop)
	deps := Deps{SDP: fakeSDP{}, PollInterval: 5 * time.Millisecond}

	_, err := ModuleInitiatedJSEP(context.Background(), h, deps, sdpproc.MergeOptions{}, ModuleJSEPIn{Type: "offer", SDP: "v=0"})
	if err == nil {
		t.Fatal("expected an error when STOP is set while gathering")
	}
}

func TestModuleInitiatedJSEPAnswerDrainsTrickles(t *testing.T) {
	agent := &fakeAgent{gathered: true}
	h := newTestHandle(agent)
	deps := Deps{SDP: fakeSDP{}}

	MessageWithJSEP(context.Background(), h, deps, JSEPIn{Type: "offer", SDP: "v=0"})
	Trickle(h, TrickleIn{Candidate: []byte(`{"c":1}`)}, time.Minute)
	if h.Trickles.Len() != 1 {
		t.Fatalf("expected buffered trickle before the module answer, got %d", h.Trickles.Len())
	}

	out, err := ModuleInitiatedJSEP(context.Background(), h, deps, sdpproc.MergeOptions{}, ModuleJSEPIn{Type: "answer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("ModuleInitiatedJSEP: %v", err)
	}
	if out.SDP != "merged:v=0" {
		t.Fatalf("SDP = %q", out.SDP)
	}
	if h.Trickles.Len() != 0 {
		t.Fatal("module-initiated answer should drain pending trickles")
	}
	if len(agent.applied) != 1 {
		t.Fatalf("expected 1 applied candidate, got %d", len(agent.applied))
	}
}
