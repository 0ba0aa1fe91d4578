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

//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package ioqueue

import (
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/container/ring"
	"golang.org/x/sys/unix"
)

// inFlight tracks whether a resume is currently registered and not yet
// fired, so a second concurrent Wait for the same id can be rejected
// instead of silently overwriting the first.
type kwaiter struct {
	fd       int
	event    ReadyEvent
	resume   func(Outcome)
	inFlight bool
}

// Queue is the kqueue backend shared by the BSDs and macOS. PriorityRead has
// no kqueue filter equivalent and is rejected by Persist.
type Queue struct {
	kq int

	waiters map[int64]*kwaiter

	// events is the raw kernel-facing receive buffer; see the epoll Queue's
	// identical field for why it cannot be a ring.Ring.
	events []unix.Kevent_t

	outcomes *ring.Ring[readyOutcome]

	entered atomic.Bool
	closed  atomic.Bool
}

type readyOutcome struct {
	w   *kwaiter
	out Outcome
}

func toFilter(ev ReadyEvent) (int16, error) {
	switch ev {
	case Read:
		return unix.EVFILT_READ, nil
	case Write:
		return unix.EVFILT_WRITE, nil
	default:
		return 0, &aioerr.ValueError{Detail: "kqueue backend has no filter for " + ev.String()}
	}
}

// Open creates a new kqueue instance.
func Open(cfg *Config) (*Queue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "kqueue"}
	}
	n := cfg.InitialEventBufferCap
	if n <= 0 {
		n = 64
	}
	return &Queue{
		kq:       kq,
		waiters:  make(map[int64]*kwaiter),
		events:   make([]unix.Kevent_t, n),
		outcomes: ring.NewFromSlice(make([]readyOutcome, n)),
	}, nil
}

// persistFD performs the kernel-level registration for fd/ev under id via
// EV_ADD|EV_DISPATCH. The kernel returns the registered event's ident in
// Kevent_t.Ident; Tick maps that fd back to its id by scanning the waiter
// map (fdOf), so no Udata smuggling is needed here the way the epoll backend smuggles id through
// Fd/Pad.
func (q *Queue) persistFD(id int64, fd int, ev ReadyEvent) (*kwaiter, error) {
	filter, err := toFilter(ev)
	if err != nil {
		return nil, err
	}
	w, existed := q.waiters[id]

	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  unix.EV_ADD | unix.EV_DISPATCH,
	}
	if _, kerr := unix.Kevent(q.kq, []unix.Kevent_t{kev}, nil, nil); kerr != nil {
		return nil, &aioerr.OSError{Code: int(kerr.(unix.Errno)), Message: kerr.Error(), Context: "kevent add"}
	}

	if !existed {
		w = &kwaiter{}
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

// Persist registers (or re-arms, oneshot via EV_DISPATCH) fd for ev and
// arranges for resume to run when it fires — the combined Persist+Wait
// convenience most callers want.
func (q *Queue) Persist(id int64, fd int, ev ReadyEvent, resume func(Outcome)) error {
	if _, err := q.persistFD(id, fd, ev); err != nil {
		return err
	}
	return q.Wait(id, resume)
}

// Unregister removes id's interest, if any.
func (q *Queue) Unregister(id int64) error {
	w, ok := q.waiters[id]
	if !ok {
		return nil
	}
	filter, _ := toFilter(w.event)
	kev := unix.Kevent_t{Ident: uint64(w.fd), Filter: filter, Flags: unix.EV_DELETE}
	_, err := unix.Kevent(q.kq, []unix.Kevent_t{kev}, nil, nil)
	delete(q.waiters, id)
	if err != nil && err != unix.ENOENT {
		return &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "kevent delete"}
	}
	return nil
}

// Running reports whether any interest is still registered.
func (q *Queue) Running() bool {
	return len(q.waiters) > 0
}

func fdOf(q *Queue, ident uint64) (int64, *kwaiter, bool) {
	for id, w := range q.waiters {
		if uint64(w.fd) == ident {
			return id, w, true
		}
	}
	return 0, nil, false
}

// Tick blocks until at least one registered interest fires or
// timeoutMillis elapses, then invokes every fired waiter's resume callback.
// Satisfies cont.Driver.
func (q *Queue) Tick(timeoutMillis int64) error {
	if !q.entered.CompareAndSwap(false, true) {
		return &aioerr.ValueError{Detail: "Tick called re-entrantly on the same Queue"}
	}
	defer q.entered.Store(false)

	if cap(q.events) < len(q.waiters) && len(q.waiters) > 0 {
		q.events = make([]unix.Kevent_t, len(q.waiters))
	}
	buf := q.events
	if n := len(q.waiters); n > 0 && n < len(buf) {
		buf = buf[:n]
	} else if len(q.waiters) == 0 {
		buf = buf[:cap(buf)]
	}

	var ts *unix.Timespec
	if timeoutMillis >= 0 {
		t := unix.NsecToTimespec(timeoutMillis * int64(1e6))
		ts = &t
	}

	n, err := unix.Kevent(q.kq, nil, buf, ts)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return &aioerr.OSError{Code: int(err.(unix.Errno)), Message: err.Error(), Context: "kevent wait"}
	}

	for i := 0; i < n; i++ {
		ev := buf[i]
		id, w, ok := fdOf(q, uint64(ev.Ident))
		if !ok {
			return &aioerr.PrematureCloseDefect{ID: int64(ev.Ident)}
		}
		out := Outcome{Event: w.event}
		if ev.Flags&unix.EV_EOF != 0 {
			out.Hangup = true
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			out.Err = &aioerr.OSError{Code: int(ev.Data), Message: "EV_ERROR", Context: "kqueue"}
		}
		delete(q.waiters, id)
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

// Close releases the kqueue file descriptor.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return &aioerr.ClosedHandleDefect{Detail: "kqueue Queue already closed"}
	}
	return unix.Close(q.kq)
}
