package registry

import (
	"testing"
	"time"
)

func TestCreateSessionGeneratesID(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	s, err := r.CreateSession(0, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("expected a non-zero generated id")
	}
	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (the registry's own reference)", s.Count())
	}
}

func TestCreateSessionConflict(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	if _, err := r.CreateSession(42, nil); err != nil {
		t.Fatalf("first CreateSession(42): %v", err)
	}
	if _, err := r.CreateSession(42, nil); err == nil {
		t.Fatal("second CreateSession(42) should conflict")
	}
}

func TestFindSessionBumpsRefcount(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	s, _ := r.CreateSession(7, nil)
	found, ok := r.FindSession(7)
	if !ok || found != s {
		t.Fatalf("FindSession(7) = %v, %v", found, ok)
	}
	if s.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 after one Find", s.Count())
	}
}

func TestDestroySessionIdempotent(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	s, _ := r.CreateSession(1, nil)
	calls := 0
	teardown := func(*Handle) { calls++ }

	r.DestroySession(s, teardown)
	r.DestroySession(s, teardown)
	r.DestroySession(s, teardown)

	if !s.Destroying() {
		t.Fatal("expected Destroying() true")
	}
}

func TestRemoveSessionThenLookupMisses(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	s, _ := r.CreateSession(5, nil)
	if !r.RemoveSession(s) {
		t.Fatal("RemoveSession should succeed the first time")
	}
	if r.RemoveSession(s) {
		t.Fatal("RemoveSession should report false the second time")
	}
	if _, ok := r.FindSession(5); ok {
		t.Fatal("removed session should not be findable")
	}
}

func TestSweeperTimesOutIdleSession(t *testing.T) {
	r := New(30*time.Millisecond, 10*time.Millisecond)
	defer r.Close()

	timedOut := make(chan uint64, 1)
	r.SetOnTimeout(func(s *Session) { timedOut <- s.ID })

	s, _ := r.CreateSession(0, nil)

	select {
	case id := <-timedOut:
		if id != s.ID {
			t.Fatalf("timed out session id = %d, want %d", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sweeper to fire")
	}

	if _, ok := r.FindSession(s.ID); ok {
		t.Fatal("timed-out session should be removed from the registry")
	}
}

func TestSweeperDisabledWhenTimeoutZero(t *testing.T) {
	r := New(0, 10*time.Millisecond)
	defer r.Close()

	s, _ := r.CreateSession(0, nil)
	time.Sleep(100 * time.Millisecond)

	if _, ok := r.FindSession(s.ID); !ok {
		t.Fatal("session should survive when session_timeout == 0")
	}
}

func TestAttachDetachHandle(t *testing.T) {
	r := New(0, 50*time.Millisecond)
	defer r.Close()

	s, _ := r.CreateSession(0, nil)
	h := r.AttachHandle(s, nil, nil, "", time.Minute)
	if h.ID == 0 {
		t.Fatal("expected non-zero handle id")
	}
	if s.HandleCount() != 1 {
		t.Fatalf("HandleCount() = %d, want 1", s.HandleCount())
	}

	if !r.DetachHandle(h) {
		t.Fatal("DetachHandle should succeed")
	}
	if s.HandleCount() != 0 {
		t.Fatalf("HandleCount() = %d, want 0 after detach", s.HandleCount())
	}
	if r.DetachHandle(h) {
		t.Fatal("second DetachHandle should report false")
	}
}
