package asyncmgr

import "context"

// job is one unit of work submitted to the pool: run fn, which executes
// the task coroutine body.
type job struct {
	fn func(ctx context.Context)
}

// pool is the bounded worker pool backing task execution. It adapts
// queue/inmemory.go's channel-based Queue, trimmed of the
// workflow-specific ActivityID/ActivityName fields: a task coroutine here
// is just a closure, not a named activity invocation.
type pool struct {
	jobs    chan job
	done    chan struct{}
}

// newPool starts size worker goroutines draining jobs. size is the
// concurrency cap the manager enforces for running task coroutines
// (spec.md §4.6 "semaphore caps the number of concurrently running task
// coroutines, default 10"); this bounded pool is what replaces
// goroutine-per-task.
func newPool(ctx context.Context, size int) *pool {
	if size <= 0 {
		size = 10
	}
	p := &pool{jobs: make(chan job, size*4), done: make(chan struct{})}
	for i := 0; i < size; i++ {
		go p.worker(ctx)
	}
	return p
}

func (p *pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			j.fn(ctx)
		}
	}
}

// submit enqueues fn for execution by the next free worker. It blocks if
// the queue is full, applying natural backpressure rather than spawning an
// unbounded number of goroutines.
func (p *pool) submit(fn func(ctx context.Context)) {
	p.jobs <- job{fn: fn}
}

func (p *pool) close() { close(p.jobs) }
