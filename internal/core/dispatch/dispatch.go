// Package dispatch implements the single ingress FIFO and routing rule of
// spec.md §4.2: one dispatcher goroutine pops Requests and handles admin
// and every sync verb directly, while the message verb is handed to a
// demand-driven worker pool so a blocking module call never stalls the
// queue.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/gatewaycore/core/internal/core/request"
)

// ErrQueueFull is returned by Enqueue when the ingress FIFO is saturated;
// the caller replies to the transport with an internal error, per spec.md
// §4.2's "thread-pool overflow reports an internal error".
var ErrQueueFull = errors.New("dispatch: queue is saturated")

// Router decides how to route and execute one Request. Handle must not
// retain req past return — the dispatcher destroys it immediately after.
type Router interface {
	// IsMessage reports whether req names the verb that gets routed to the
	// worker pool (the "message" verb; everything else, admin or not, runs
	// synchronously on the dispatcher goroutine).
	IsMessage(req *request.Request) bool
	// Handle executes req. Any reply is the handler's own responsibility,
	// written through req.Reply before Handle returns.
	Handle(ctx context.Context, req *request.Request)
}

// Dispatcher is the single consumer of the ingress queue.
type Dispatcher struct {
	router Router
	queue  chan *request.Request
	pool   *workerPool

	stopCh chan struct{}
	done   chan struct{}
}

// New builds and starts a Dispatcher. queueDepth bounds the ingress FIFO
// (0 uses a sane default); idleRetirement is how long a worker sits idle
// before its goroutine exits (spec.md §5, 120s default).
func New(router Router, queueDepth int, idleRetirement time.Duration) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	d := &Dispatcher{
		router: router,
		queue:  make(chan *request.Request, queueDepth),
		pool:   newWorkerPool(idleRetirement),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue pushes req onto the FIFO, the only point of contention between
// producers; the dispatcher goroutine is the queue's sole consumer.
func (d *Dispatcher) Enqueue(req *request.Request) error {
	select {
	case d.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case req := <-d.queue:
			d.route(req)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) route(req *request.Request) {
	if req.Admin || !d.router.IsMessage(req) {
		d.router.Handle(context.Background(), req)
		req.Destroy()
		return
	}

	if !d.pool.Submit(func() {
		d.router.Handle(context.Background(), req)
		req.Destroy()
	}) {
		req.Destroy() // pool already closed; drop rather than leak the request
	}
}

// Close stops accepting new dispatch-loop iterations and waits for the
// worker pool to drain in-flight tasks.
func (d *Dispatcher) Close() {
	close(d.stopCh)
	<-d.done
	d.pool.Close()
}
