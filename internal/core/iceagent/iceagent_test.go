package iceagent

import (
	"context"
	"testing"

	"github.com/pion/rtp"
)

func TestSetupLocalMarksGatheringDone(t *testing.T) {
	a := NewLocalAgent()
	if a.GatheringDone() {
		t.Fatal("a fresh agent should not report gathering done")
	}
	if err := a.SetupLocal(context.Background(), true, false, false, true); err != nil {
		t.Fatalf("SetupLocal: %v", err)
	}
	if !a.GatheringDone() {
		t.Fatal("GatheringDone should be true once SetupLocal returns")
	}
}

func TestSetupLocalRejectedAfterClose(t *testing.T) {
	a := NewLocalAgent()
	if err := a.Hangup("bye"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if err := a.SetupLocal(context.Background(), true, false, false, true); err == nil {
		t.Fatal("expected SetupLocal to reject a closed agent")
	}
}

func TestApplyRemoteCandidateRejectsEmpty(t *testing.T) {
	a := NewLocalAgent()
	if err := a.ApplyRemoteCandidate(nil); err == nil {
		t.Fatal("expected an error applying an empty candidate")
	}
}

func TestRelayRTPDropsAfterClose(t *testing.T) {
	a := NewLocalAgent()
	pkt := rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 1, SSRC: 1}, Payload: []byte{1, 2, 3}}
	buf, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	a.RelayRTP(false, buf) // should not panic on a live agent

	a.Hangup("bye")
	a.RelayRTP(false, buf) // should not panic on a closed agent either
}

func TestPushNewCredentialsProducesDistinctValues(t *testing.T) {
	a := NewLocalAgent()
	if err := a.PushNewCredentials(); err != nil {
		t.Fatalf("PushNewCredentials: %v", err)
	}
	first := a.credentials
	if err := a.PushNewCredentials(); err != nil {
		t.Fatalf("PushNewCredentials: %v", err)
	}
	if a.credentials == first {
		t.Fatal("successive credentials should differ")
	}
}
