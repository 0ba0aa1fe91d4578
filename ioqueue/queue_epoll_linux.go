// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package ioqueue

import (
	"sync/atomic"
	"unsafe"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/container/ring"
	"golang.org/x/sys/unix"
)

// unsafeFdPointer addresses the 8-byte Fd/Pad region of a raw epoll_event,
// the same trick connstate/poll_linux.go uses to smuggle a pointer through
// the kernel's opaque per-event data word; here we smuggle an int64 id
// instead of a Go pointer, so no GC-visibility concern applies.
func unsafeFdPointer(ev *unix.EpollEvent) unsafe.Pointer {
	return unsafe.Pointer(&ev.Fd)
}

// waiter is one registered interest. Registration is oneshot: Tick removes a
// waiter once it fires, and the next Persist for its id registers it again.
// inFlight tracks whether a resume is currently
// registered and not yet fired, so a second concurrent Wait for the same id
// can be rejected instead of silently overwriting the first.
type waiter struct {
	fd       int
	event    ReadyEvent
	resume   func(Outcome)
	inFlight bool
}

// Queue is the linux epoll backend. It owns epfd for its entire lifetime;
// Close releases it. Queue is confined to a single goroutine by convention,
// the way the spec pins the owning EventQueue to one OS thread; entering is
// guarded so concurrent misuse surfaces as a defect instead of silent
// corruption.
type Queue struct {
	epfd int

	waiters map[int64]*waiter

	// events is the raw kernel-facing receive buffer for epoll_wait. It must
	// be a plain contiguous []unix.EpollEvent — the kernel writes fixed-size
	// C structs directly into it, so it cannot be backed by ring.Ring (whose
	// Item[V] wrapper changes the element stride). It is still reused call
	// to call and only grown, never reallocated per Tick, satisfying the
	// "reusable per-call receive buffer" requirement at the syscall boundary.
	events []unix.EpollEvent

	// outcomes is a ring.Ring allocated at Open with the same length as
	// events. Tick does not use it: it resumes each fired waiter directly
	// while walking events.
	outcomes *ring.Ring[readyOutcome]

	entered atomic.Bool
	closed  atomic.Bool
}

type readyOutcome struct {
	w   *waiter
	out Outcome
}

// Open creates a new epoll instance.
func Open(cfg *Config) (*Queue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "epoll_create1"}
	}
	n := cfg.InitialEventBufferCap
	if n <= 0 {
		n = 64
	}
	q := &Queue{
		epfd:     epfd,
		waiters:  make(map[int64]*waiter),
		events:   make([]unix.EpollEvent, n),
		outcomes: ring.NewFromSlice(make([]readyOutcome, n)),
	}
	return q, nil
}

func toEpollEvents(ev ReadyEvent) uint32 {
	switch ev {
	case Write:
		return unix.EPOLLOUT
	case PriorityRead:
		return unix.EPOLLPRI
	default:
		return unix.EPOLLIN
	}
}

// persistFD performs the kernel-level registration for fd/ev under id: it
// always tries EPOLL_CTL_ADD first, falling back to EPOLL_CTL_MOD on
// EEXIST — the expected path when rearming after a fired oneshot event,
// since EPOLLONESHOT disarms an fd's interest without removing its
// registration. If ADD succeeds while id still has a waiter entry left
// over from before, the kernel did not think fd was already registered
// even though our own bookkeeping did: fd was closed (dropping its epoll
// registrations) and reused without going through Unregister first, which
// is a PrematureCloseDefect, not a transient race.
func (q *Queue) persistFD(id int64, fd int, ev ReadyEvent) (*waiter, error) {
	w, existed := q.waiters[id]

	kev := unix.EpollEvent{Events: toEpollEvents(ev) | unix.EPOLLONESHOT | unix.EPOLLRDHUP}
	*(*int64)(unsafeFdPointer(&kev)) = id

	err := unix.EpollCtl(q.epfd, unix.EPOLL_CTL_ADD, fd, &kev)
	switch {
	case err == nil:
		if existed {
			return nil, &aioerr.PrematureCloseDefect{ID: id}
		}
	case err == unix.EEXIST:
		if err = unix.EpollCtl(q.epfd, unix.EPOLL_CTL_MOD, fd, &kev); err != nil {
			return nil, &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "epoll_ctl"}
		}
	default:
		return nil, &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "epoll_ctl"}
	}

	if !existed {
		w = &waiter{}
		q.waiters[id] = w
	}
	w.fd = fd
	w.event = ev
	return w, nil
}

// Wait arranges for resume to run when id's persisted interest fires. It
// fails with a ValueError (AlreadyQueued) if id already has a live waiter
// that hasn't fired yet — at most one waiter is allowed per id at a time.
// id must already have been Persisted.
func (q *Queue) Wait(id int64, resume func(Outcome)) error {
	w, ok := q.waiters[id]
	if !ok {
		return &aioerr.UnregisteredHandleDefect{Detail: "Wait called for an id never Persisted with this Queue"}
	}
	if w.inFlight {
		return &aioerr.ValueError{Detail: "AlreadyQueued: a waiter is already registered for this id"}
	}
	w.resume = resume
	w.inFlight = true
	return nil
}

// Persist registers (or re-arms, oneshot) fd for ev and arranges for
// resume to run when it fires — the combined Persist+Wait convenience
// most callers want. It fails with the same ValueError Wait would return
// if id already has a live, unfired waiter.
func (q *Queue) Persist(id int64, fd int, ev ReadyEvent, resume func(Outcome)) error {
	if _, err := q.persistFD(id, fd, ev); err != nil {
		return err
	}
	return q.Wait(id, resume)
}

// Unregister removes id's interest. Unregistering an id not currently
// registered is a no-op (the handle may have never been waited on).
func (q *Queue) Unregister(id int64) error {
	w, ok := q.waiters[id]
	if !ok {
		return nil
	}
	var kev unix.EpollEvent
	err := unix.EpollCtl(q.epfd, unix.EPOLL_CTL_DEL, w.fd, &kev)
	delete(q.waiters, id)
	if err != nil && err != unix.ENOENT {
		return &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "epoll_ctl del"}
	}
	return nil
}

// Running reports whether any interest is still registered.
func (q *Queue) Running() bool {
	return len(q.waiters) > 0
}

// Tick blocks until at least one registered interest fires or
// timeoutMillis elapses, then invokes every fired waiter's resume callback
// before returning. Satisfies cont.Driver.
func (q *Queue) Tick(timeoutMillis int64) error {
	if !q.entered.CompareAndSwap(false, true) {
		return &aioerr.ValueError{Detail: "Tick called re-entrantly on the same Queue"}
	}
	defer q.entered.Store(false)

	if cap(q.events) < len(q.waiters) && len(q.waiters) > 0 {
		q.events = make([]unix.EpollEvent, len(q.waiters))
	}
	buf := q.events
	if n := len(q.waiters); n > 0 && n < len(buf) {
		buf = buf[:n]
	} else if len(q.waiters) == 0 {
		buf = buf[:cap(buf)]
	}

	n, err := unix.EpollWait(q.epfd, buf, int(timeoutMillis))
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "epoll_wait"}
	}

	for i := 0; i < n; i++ {
		id := *(*int64)(unsafeFdPointer(&buf[i]))
		w, ok := q.waiters[id]
		if !ok {
			// the handle was closed (and thus removed here) while the kernel
			// still had a pending completion for it in flight: the spec calls
			// this out as a programmer error, not a transient race.
			return &aioerr.PrematureCloseDefect{ID: id}
		}
		out := Outcome{Event: w.event}
		if buf[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			out.Hangup = true
		}
		if buf[i].Events&unix.EPOLLERR != 0 {
			out.Err = &aioerr.OSError{Message: "EPOLLERR", Context: "epoll"}
		}
		delete(q.waiters, id)
		w.inFlight = false
		resume := w.resume
		if resume != nil {
			resume(out)
		}
	}
	return nil
}

// Run pumps Tick until no interests remain registered.
func (q *Queue) Run() error {
	for q.Running() {
		if err := q.Tick(-1); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the epoll file descriptor. Closing a Queue with live
// waiters is itself a defect under the spec's lifetime rules, but Close
// does not enforce that here — callers own draining via Run/Unregister
// first.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return &aioerr.ClosedHandleDefect{Detail: "epoll Queue already closed"}
	}
	return unix.Close(q.epfd)
}
