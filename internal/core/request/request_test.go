package request

import (
	"encoding/json"
	"testing"

	"github.com/gatewaycore/core/internal/transport"
)

type stubCarrier struct{ sent []string }

func (c *stubCarrier) PackageString() string { return "transport.stub" }
func (c *stubCarrier) SendMessage(b *transport.Binding, requestID any, admin bool, payload []byte) error {
	c.sent = append(c.sent, string(payload))
	return nil
}
func (c *stubCarrier) SessionCreated(*transport.Binding, uint64)     {}
func (c *stubCarrier) SessionOver(*transport.Binding, uint64, bool)  {}
func (c *stubCarrier) IsJanusAPIEnabled() bool                       { return true }
func (c *stubCarrier) IsAdminAPIEnabled() bool                       { return false }

func decodeRoot(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &root); err != nil {
		t.Fatalf("decodeRoot: %v", err)
	}
	return root
}

func TestNewHoldsBindingAndDestroyReleases(t *testing.T) {
	c := &stubCarrier{}
	b := transport.NewBinding(c, nil)
	b.Hold() // the session's own reference, independent of the request

	root := decodeRoot(t, `{"janus":"create"}`)
	req := New(b, "txn-1", false, root, 0, 0, nil)

	if b.Count() != 2 {
		t.Fatalf("binding refcount = %d, want 2 (session + request)", b.Count())
	}
	req.Destroy()
	if b.Count() != 1 {
		t.Fatalf("binding refcount after Destroy = %d, want 1", b.Count())
	}
	req.Destroy() // idempotent
	if b.Count() != 1 {
		t.Fatal("a second Destroy should not release the binding again")
	}
}

func TestDestroyRunsOnDoneOnce(t *testing.T) {
	c := &stubCarrier{}
	b := transport.NewBinding(c, nil)
	root := decodeRoot(t, `{"janus":"destroy"}`)

	calls := 0
	req := New(b, "txn-2", false, root, 5, 0, func() { calls++ })
	req.Destroy()
	req.Destroy()
	if calls != 1 {
		t.Fatalf("onDone ran %d times, want 1", calls)
	}
}

func TestStringAndHas(t *testing.T) {
	root := decodeRoot(t, `{"janus":"message","transaction":"abc"}`)
	req := New(nil, "abc", false, root, 0, 0, nil)

	if req.String("janus") != "message" {
		t.Fatalf("String(janus) = %q", req.String("janus"))
	}
	if req.String("missing") != "" {
		t.Fatal("String on a missing field should return empty")
	}
	if !req.Has("transaction") {
		t.Fatal("expected Has(transaction) to be true")
	}
	if req.Has("nope") {
		t.Fatal("expected Has(nope) to be false")
	}
}

func TestReplySendsThroughBinding(t *testing.T) {
	c := &stubCarrier{}
	b := transport.NewBinding(c, nil)
	req := New(b, "txn-3", false, nil, 0, 0, nil)

	if err := req.Reply(map[string]string{"janus": "success"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(c.sent) != 1 {
		t.Fatalf("expected 1 sent reply, got %d", len(c.sent))
	}
}
