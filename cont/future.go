// Package cont implements the suspendable-computation machinery the ioqueue
// and stream packages are built on: a type-erased Continuation, a Waker that
// re-drives a polling loop, and a three-state Future.
//
// Go already has goroutines, so this package does not transform async
// procedures into compiler-generated state machines the way the spec's
// source macro system does. Instead a Continuation is an explicit closure
// capturing whatever state it needs, and a Future is an explicit tagged
// union polled from a loop. This preserves the spec's one-suspension-point
// contract (ioqueue.Wait / Future.Wait) without requiring generator syntax.
package cont

import (
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
)

// Waker is a type-erased continuation specialized to "resume with no
// value". Invoking a Waker re-drives whatever polling loop it was captured
// from; it must be safe to call from any goroutine, since ioqueue backends
// fire wakers from their own dispatch loop and cross-thread resolutions
// (see resolver) fire them from a worker goroutine.
type Waker struct {
	wake func()
}

// NewWaker wraps f as a Waker. f must be safe to call more than once; only
// the first call after a transition needs to do anything, but extra calls
// must not panic or double-schedule visible work.
func NewWaker(f func()) Waker {
	return Waker{wake: f}
}

// Wake invokes the waker. A zero-value Waker's Wake is a no-op.
func (w Waker) Wake() {
	if w.wake != nil {
		w.wake()
	}
}

// state tags the three states a Future can be in.
type state int

const (
	statePending state = iota
	stateResolved
	stateError
)

// Continuation is the pending half of a Future[T]: a resumable computation
// that, given a Waker to re-arm itself with, produces the Future's next
// state. It is opaque outside this package and ioqueue: only poll logic may
// invoke Resume.
type Continuation[T any] struct {
	Resume func(w Waker) Future[T]
}

// Future is a three-state tagged union: Pending(continuation), Resolved
// (value), Error(err). A Future must be consumed by Poll or Wait exactly
// once; copying a Future and polling both copies from different places is a
// caller bug this package cannot detect in Go (there is no linear-type
// enforcement), so treat a Future as moved-from after Poll/Wait.
type Future[T any] struct {
	state state
	value T
	err   error
	cont  *Continuation[T]
}

// Pending constructs a Future whose sole capability is Poll.
func Pending[T any](c Continuation[T]) Future[T] {
	return Future[T]{state: statePending, cont: &c}
}

// Resolved constructs an already-resolved Future.
func Resolved[T any](v T) Future[T] {
	return Future[T]{state: stateResolved, value: v}
}

// Errored constructs an already-failed Future.
func Errored[T any](err error) Future[T] {
	return Future[T]{state: stateError, err: err}
}

// Poll drives the future one step. If f is already resolved or errored, it
// is returned unchanged. If pending, f's continuation is resumed with w and
// the resulting (possibly still-pending) Future is returned.
func Poll[T any](f Future[T], w Waker) Future[T] {
	if f.state != statePending {
		return f
	}
	return f.cont.Resume(w)
}

// Ready reports whether f holds a final value or error.
func (f Future[T]) Ready() bool {
	return f.state != statePending
}

// Value returns the resolved value and nil, the zero value and an error if
// f errored, or the zero value and a PrematureCloseDefect-adjacent
// ValueError if f is still pending (callers must check Ready first; this
// never happens from Wait, which only returns once Ready).
func (f Future[T]) Value() (T, error) {
	switch f.state {
	case stateResolved:
		return f.value, nil
	case stateError:
		var zero T
		return zero, f.err
	default:
		var zero T
		return zero, &aioerr.ValueError{Detail: "Value called on a still-pending Future"}
	}
}

// Driver is implemented by the EventQueue that owns the calling goroutine.
// Future.Wait needs it because this is a single-threaded cooperative model:
// nothing else will ever call Tick on this thread, so Wait must pump the
// queue itself while a future it cares about is pending.
type Driver interface {
	// Tick blocks until either timeoutMillis elapses or at least one
	// runnable continuation exists, then resumes every runnable
	// continuation before returning. timeoutMillis < 0 blocks indefinitely.
	Tick(timeoutMillis int64) error
}

// Wait drives Poll on f, pumping d's Tick loop whenever f is pending, until
// f resolves or errors.
func Wait[T any](d Driver, f Future[T]) (T, error) {
	for {
		if f.Ready() {
			return f.Value()
		}
		var woken atomic.Bool
		w := NewWaker(func() { woken.Store(true) })
		f = Poll(f, w)
		if f.Ready() {
			return f.Value()
		}
		for !woken.Load() {
			if err := d.Tick(-1); err != nil {
				var zero T
				return zero, err
			}
		}
	}
}
