package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrExecutorClosed is returned when work is submitted to a stopped executor.
var ErrExecutorClosed = errors.New("plugin executor is closed")

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) (interface{}, error)
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// Executor runs one plugin's work on a single goroutine, in submission
// order. Distinct plugins use distinct executors and run in parallel.
type Executor struct {
	queue     chan *task
	done      chan struct{}
	stopped   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewExecutor starts the worker goroutine.
func NewExecutor(queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	e := &Executor{
		queue:   make(chan *task, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.drain()
			return
		case t := <-e.queue:
			e.execute(t)
		}
	}
}

func (e *Executor) execute(t *task) {
	// work whose caller already gave up is skipped
	if err := t.ctx.Err(); err != nil {
		t.result <- taskResult{err: err}
		return
	}
	value, err := t.fn(t.ctx)
	t.result <- taskResult{value: value, err: err}
}

func (e *Executor) drain() {
	for {
		select {
		case t := <-e.queue:
			t.result <- taskResult{err: ErrExecutorClosed}
		default:
			return
		}
	}
}

// Submit queues fn and waits for its result or for ctx to end. fn receives
// ctx and must honour it.
func (e *Executor) Submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if e.closed.Load() {
		return nil, ErrExecutorClosed
	}
	select {
	case <-e.done:
		return nil, ErrExecutorClosed
	default:
	}
	t := &task{ctx: ctx, fn: fn, result: make(chan taskResult, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrExecutorClosed
	case e.queue <- t:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-t.result:
		return r.value, r.err
	case <-e.stopped:
		// a task that slipped in after drain is never run
		select {
		case r := <-t.result:
			return r.value, r.err
		default:
			return nil, ErrExecutorClosed
		}
	}
}

// Close runs fn after every task already queued, then stops the worker.
// It does not wait for the worker to finish.
func (e *Executor) Close(fn func()) {
	e.closeOnce.Do(func() {
		final := &task{
			ctx: context.Background(),
			fn: func(context.Context) (interface{}, error) {
				if fn != nil {
					fn()
				}
				return nil, nil
			},
			result: make(chan taskResult, 1),
		}
		go func() {
			e.queue <- final
			<-final.result
			e.closed.Store(true)
			close(e.done)
		}()
	})
}

// Wait blocks until the worker goroutine has exited.
func (e *Executor) Wait() {
	<-e.stopped
}
