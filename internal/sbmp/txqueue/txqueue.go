// Package txqueue funnels outbound datagram sends through a single
// goroutine, decoupling producers (callers wanting to send a message) from
// a potentially slow or wedged byte sink underneath a frame codec.
package txqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Job is one queued unit of work: a closure that performs the blocking send
// against the underlying endpoint or codec. Queue itself is payload-agnostic;
// callers close over whatever they need to transmit.
type Job func() error

// Hooks customize Queue behavior without coupling it to a specific metrics
// or logging backend.
type Hooks struct {
	// OnError is called when a job returns a non-nil error.
	OnError func(error)
	// OnAfter is called only after a job completes without error.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Enqueue. If nil, the overflow is silent.
	OnDrop func() error
}

// ErrQueueClosed is returned by Enqueue once Close has been called.
var ErrQueueClosed = errors.New("txqueue: closed")

// Queue is a reusable asynchronous job runner with non-blocking enqueue
// semantics: if the internal buffer is full, Enqueue invokes the configured
// OnDrop hook and returns its error instead of blocking the caller.
type Queue struct {
	mu     sync.Mutex
	ch     chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	hooks  Hooks
	closed atomic.Bool
}

// New constructs a Queue with a buffered channel of size buf and starts its
// worker goroutine bound to parent's lifetime.
func New(parent context.Context, buf int, hooks Hooks) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		ch:     make(chan Job, buf),
		ctx:    ctx,
		cancel: cancel,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-q.ch:
			if !ok {
				return
			}
			if err := job(); err != nil {
				if q.hooks.OnError != nil {
					q.hooks.OnError(err)
				}
				continue
			}
			if q.hooks.OnAfter != nil {
				q.hooks.OnAfter()
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// Enqueue queues job for asynchronous execution, or invokes OnDrop if the
// buffer is full.
func (q *Queue) Enqueue(job Job) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			return q.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending jobs to drain.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
	q.cancel()
}
