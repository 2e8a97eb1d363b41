// Package completion provides a one-shot result sink for asynchronous
// operations.
//
// A Token is resolved exactly once, either with a value or with an error.
// Cancellation and deadline triggers can be attached; whichever trigger (or
// explicit Resolve/Fail) acts first wins and disarms the others. The
// completion callback never runs on the resolving goroutine: it is handed to
// a Scheduler, so resolving while holding a lock is safe even if the
// callback takes the same lock.
package completion

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotDone is returned by Result before the token is resolved.
	ErrNotDone = errors.New("completion: result not available yet")

	// ErrTaken is returned by Result once the result was handed over.
	ErrTaken = errors.New("completion: result already taken")
)

// Scheduler runs fn at some later point, outside the caller's stack.
type Scheduler func(fn func())

// Go is the default Scheduler: a fresh goroutine per callback.
func Go(fn func()) {
	go fn()
}

// Callback is invoked once the token is resolved.
type Callback[T any] func(t *Token[T])

// Token is a one-shot container for the result of an asynchronous request.
type Token[T any] struct {
	mu       sync.Mutex
	done     bool
	taken    bool
	value    T
	err      error
	callback Callback[T]
	schedule Scheduler

	stopCancel func() bool
	timer      *time.Timer
}

// New creates an unresolved token. A nil schedule defaults to Go.
func New[T any](cb Callback[T], schedule Scheduler) *Token[T] {
	if schedule == nil {
		schedule = Go
	}
	return &Token[T]{callback: cb, schedule: schedule}
}

// OnCancel calls fn once when ctx is cancelled, unless the token is
// resolved first. Only one registration is kept; calling it again replaces
// the previous one.
func (t *Token[T]) OnCancel(ctx context.Context, fn func()) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(ctx, fn)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCancel != nil {
		t.stopCancel()
	}
	if t.done {
		stop()
		return
	}
	t.stopCancel = stop
}

// OnDeadline calls fn once after d, unless the token is resolved first.
func (t *Token[T]) OnDeadline(d time.Duration, fn func()) {
	timer := time.AfterFunc(d, fn)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	if t.done {
		timer.Stop()
		return
	}
	t.timer = timer
}

// Resolve completes the token with v. It reports whether this call won.
func (t *Token[T]) Resolve(v T) bool {
	return t.complete(v, nil)
}

// Fail completes the token with err. It reports whether this call won.
func (t *Token[T]) Fail(err error) bool {
	var zero T
	return t.complete(zero, err)
}

func (t *Token[T]) complete(v T, err error) bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	t.done = true
	t.value = v
	t.err = err
	t.disarmLocked()
	cb := t.callback
	t.mu.Unlock()

	if cb != nil {
		t.schedule(func() { cb(t) })
	}
	return true
}

// disarmLocked stops the cancel registration and the deadline timer. Both
// stop functions are idempotent, so racing triggers are harmless.
func (t *Token[T]) disarmLocked() {
	if t.stopCancel != nil {
		t.stopCancel()
		t.stopCancel = nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Done reports whether the token has been resolved.
func (t *Token[T]) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Result hands the result over to the caller and clears the stored value.
// A second call returns the zero value and ErrTaken.
func (t *Token[T]) Result() (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	if !t.done {
		return zero, ErrNotDone
	}
	if t.taken {
		return zero, ErrTaken
	}
	v, err := t.value, t.err
	t.value = zero
	t.err = nil
	t.taken = true
	return v, err
}

// Await starts an asynchronous operation with a callback that forwards the
// token, then blocks until the token is resolved or ctx ends.
func Await[T any](ctx context.Context, start func(cb Callback[T])) (*Token[T], error) {
	ch := make(chan *Token[T], 1)
	start(func(t *Token[T]) { ch <- t })

	select {
	case t := <-ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
