package device

import (
	"context"
	"sync"
)

const defaultQueueSize = 32

type queuedJob struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Queue runs jobs for one device strictly one at a time in submission order.
type Queue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan queuedJob
	exited chan struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &Queue{
		jobs:   make(chan queuedJob, size),
		exited: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.exited)
	for job := range q.jobs {
		err := job.fn(job.ctx)
		if job.done != nil {
			job.done <- err
		}
	}
}

// Do enqueues fn and waits for its result.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := q.submit(queuedJob{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go enqueues fn without waiting. onErr, when set, receives a non-nil result.
func (q *Queue) Go(ctx context.Context, fn func(ctx context.Context) error, onErr func(error)) error {
	return q.submit(queuedJob{ctx: ctx, fn: func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && onErr != nil {
			onErr(err)
		}
		return err
	}})
}

func (q *Queue) submit(job queuedJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.jobs <- job
	return nil
}

// Close stops accepting jobs. Jobs already queued still run; Close waits for them.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.exited
}
