package loopback

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gatewaycore/core/internal/core/dispatch"
	"github.com/gatewaycore/core/internal/core/request"
)

type echoRouter struct{}

func (echoRouter) IsMessage(*request.Request) bool { return false }
func (echoRouter) Handle(_ context.Context, req *request.Request) {
	_ = req.Reply(map[string]string{"janus": "ack"})
}

func TestSendMessageDeliversToOutbox(t *testing.T) {
	c := New(4)
	b := c.NewBinding()
	defer b.Release()

	if err := b.Send("txn", false, map[string]string{"janus": "success"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case payload := <-c.Outbox(b):
		var v map[string]string
		if err := json.Unmarshal(payload, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if v["janus"] != "success" {
			t.Fatalf("got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbox delivery")
	}
}

func TestSendMessageAfterSessionOverIsGone(t *testing.T) {
	c := New(4)
	b := c.NewBinding()
	defer b.Release()

	c.SessionOver(b, 1, true)

	if err := b.Send("txn", false, map[string]string{"janus": "success"}); err == nil {
		t.Fatal("expected an error once the binding's outbox is forgotten")
	}
}

func TestOutboxOverflowDropsAndCounts(t *testing.T) {
	c := New(1)
	b := c.NewBinding()
	defer b.Release()

	for i := 0; i < 3; i++ {
		_ = b.Send("txn", false, map[string]int{"n": i})
	}
	if got := c.DroppedCount(b); got == 0 {
		t.Fatalf("DroppedCount = %d, want > 0", got)
	}
}

func TestSubmitEnqueuesOnDispatcher(t *testing.T) {
	c := New(4)
	b := c.NewBinding()
	defer b.Release()

	disp := dispatch.New(echoRouter{}, 8, time.Minute)
	defer disp.Close()

	root := map[string]json.RawMessage{"janus": json.RawMessage(`"create"`)}
	if err := c.Submit(disp, b, false, 0, 0, "txn-1", root); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case payload := <-c.Outbox(b):
		var v map[string]string
		if err := json.Unmarshal(payload, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if v["janus"] != "ack" {
			t.Fatalf("got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatcher to process the submitted request")
	}
}
