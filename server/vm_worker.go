package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/servo/pkg/bytecode"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// job is one function waiting to run on the worker goroutine.
type job struct {
	run  func(*bytecode.VM) (any, error)
	done chan outcome
}

type outcome struct {
	value any
	err   error
}

// VMWorker owns a VM and runs submitted functions on it one at a time.
// The VM keeps its stack between calls, so editor requests never touch it
// directly.
type VMWorker struct {
	vm       *bytecode.VM
	jobs     chan job
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker starts a worker goroutine for v.
func NewVMWorker(v *bytecode.VM) *VMWorker {
	w := &VMWorker{
		vm:   v,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			// Both cases can be ready at once; never run a job after Stop.
			if w.stopped() {
				j.done <- outcome{err: ErrWorkerStopped}
				return
			}
			j.done <- w.runJob(j.run)
		}
	}
}

// runJob calls fn with the VM, turning a panic into an error.
func (w *VMWorker) runJob(fn func(*bytecode.VM) (any, error)) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered panic on vm worker: %v", r)
			out = outcome{err: fmt.Errorf("%v", r)}
		}
	}()
	out.value, out.err = fn(w.vm)
	return out
}

func (w *VMWorker) stopped() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// Do runs fn on the worker goroutine and waits for its result. It returns
// ctx.Err() if ctx is done first and ErrWorkerStopped once Stop was called.
func (w *VMWorker) Do(ctx context.Context, fn func(*bytecode.VM) (any, error)) (any, error) {
	if w.stopped() {
		return nil, ErrWorkerStopped
	}

	j := job{run: fn, done: make(chan outcome, 1)}
	select {
	case w.jobs <- j:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-j.done:
		return out.value, out.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call is Do for a function that cannot fail, with a typed result.
func Call[T any](ctx context.Context, w *VMWorker, fn func(*bytecode.VM) T) (T, error) {
	value, err := w.Do(ctx, func(v *bytecode.VM) (any, error) {
		return fn(v), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	result, _ := value.(T)
	return result, nil
}

// Stop ends the worker goroutine. Pending and later calls to Do fail with
// ErrWorkerStopped. It is safe to call more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}
