package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatewaycore/core/internal/core/request"
)

type recordingRouter struct {
	messageVerb string

	mu      sync.Mutex
	handled []string

	block chan struct{} // when non-nil, Handle waits on it before returning
}

func (r *recordingRouter) IsMessage(req *request.Request) bool {
	return req.String("janus") == r.messageVerb
}

func (r *recordingRouter) Handle(_ context.Context, req *request.Request) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.handled = append(r.handled, req.String("janus"))
	r.mu.Unlock()
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handled)
}

func newReq(t *testing.T, janus string, admin bool) *request.Request {
	t.Helper()
	root := map[string]json.RawMessage{"janus": json.RawMessage(`"` + janus + `"`)}
	r := request.New(nil, "txn", admin, root, 0, 0, nil)
	return r
}

func TestDispatcherRoutesSyncVerbsInline(t *testing.T) {
	router := &recordingRouter{messageVerb: "message"}
	d := New(router, 16, time.Second)
	defer d.Close()

	if err := d.Enqueue(newReq(t, "ping", false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for router.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("sync verb was never handled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcherRoutesMessageToWorkerPool(t *testing.T) {
	router := &recordingRouter{messageVerb: "message", block: make(chan struct{})}
	d := New(router, 16, time.Second)
	defer d.Close()

	if err := d.Enqueue(newReq(t, "message", false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The dispatcher loop itself should stay unblocked even though the
	// worker handling "message" is parked on router.block — prove it by
	// enqueuing and handling a second, synchronous verb immediately.
	if err := d.Enqueue(newReq(t, "ping", false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for router.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("the synchronous ping should not be blocked by the pending async message")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(router.block)

	deadline = time.After(time.Second)
	for router.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("the async message was never handled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEnqueueReportsQueueFull(t *testing.T) {
	router := &recordingRouter{messageVerb: "message", block: make(chan struct{})}
	d := New(router, 1, time.Second)
	defer func() {
		close(router.block)
		d.Close()
	}()

	// Fill the single worker with a blocked message task, then saturate the
	// one-deep queue behind it.
	if err := d.Enqueue(newReq(t, "message", false)); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the dispatcher loop pop it onto the pool

	var full int32
	for i := 0; i < 8; i++ {
		if err := d.Enqueue(newReq(t, "message", false)); err == ErrQueueFull {
			atomic.AddInt32(&full, 1)
		}
	}
	if full == 0 {
		t.Fatal("expected at least one Enqueue to report ErrQueueFull once saturated")
	}
}

func TestWorkerPoolRetiresIdleWorkers(t *testing.T) {
	p := newWorkerPool(20 * time.Millisecond)
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() { close(done) })
	<-done

	if p.TotalWorkers() == 0 {
		t.Fatal("expected at least one live worker right after a task runs")
	}

	deadline := time.After(time.Second)
	for p.TotalWorkers() != 0 {
		select {
		case <-deadline:
			t.Fatal("worker did not retire after sitting idle past its retirement window")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
