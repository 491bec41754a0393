package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// workerPool is the demand-driven async executor behind the message
// verb's dispatch path. Grounded on internal/signaling/drain/coordinator.go's
// errgroup+semaphore pairing, generalized from "bound concurrent session
// migrations" to "bound a burst of concurrent pool-growth decisions":
// spawnSem has weight 1, so when many message Requests land at once and
// every worker is busy, only one of them actually spawns a new worker
// goroutine — the rest queue onto tasks and pick it up once it starts
// running. Workers persist, picking up further tasks, until they sit idle
// past idleRetirement, at which point the goroutine exits; the pool has
// no upper bound on live workers (spec.md §5's "unbounded-by-demand").
type workerPool struct {
	tasks chan func()

	idle  atomic.Int64
	total atomic.Int64

	spawnSem *semaphore.Weighted

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	idleRetirement time.Duration
}

func newWorkerPool(idleRetirement time.Duration) *workerPool {
	if idleRetirement <= 0 {
		idleRetirement = 120 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	return &workerPool{
		tasks:          make(chan func()),
		spawnSem:       semaphore.NewWeighted(1),
		eg:             eg,
		ctx:            egCtx,
		cancel:         cancel,
		idleRetirement: idleRetirement,
	}
}

// Submit hands task to a free worker, spawning a new one if none is idle.
// Reports false once the pool has been closed.
func (p *workerPool) Submit(task func()) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	if p.idle.Load() == 0 && p.spawnSem.TryAcquire(1) {
		p.spawn()
		p.spawnSem.Release(1)
	}

	select {
	case p.tasks <- task:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// TotalWorkers reports the current live worker-goroutine count, for
// diagnostics and tests.
func (p *workerPool) TotalWorkers() int64 { return p.total.Load() }

func (p *workerPool) spawn() {
	p.total.Add(1)
	p.idle.Add(1)
	p.eg.Go(func() error {
		defer p.total.Add(-1)
		p.worker()
		return nil
	})
}

func (p *workerPool) worker() {
	timer := time.NewTimer(p.idleRetirement)
	defer timer.Stop()
	for {
		select {
		case task := <-p.tasks:
			p.idle.Add(-1)
			task()
			p.idle.Add(1)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.idleRetirement)
		case <-timer.C:
			p.idle.Add(-1)
			return
		case <-p.ctx.Done():
			p.idle.Add(-1)
			return
		}
	}
}

// Close stops every worker and waits for in-flight tasks to finish.
func (p *workerPool) Close() {
	p.cancel()
	_ = p.eg.Wait()
}
