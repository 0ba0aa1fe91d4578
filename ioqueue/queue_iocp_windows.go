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

//go:build windows

package ioqueue

import (
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
	"golang.org/x/sys/windows"
)

// iocpWaiter tracks one outstanding overlapped operation: the handle it was
// issued against (needed to CancelIoEx it) and the continuation to resume
// on completion.
type iocpWaiter struct {
	handle windows.Handle
	resume func(Outcome)
}

// Queue is the Windows I/O completion port backend. Unlike the readiness
// backends, Wait here registers interest in an operation the caller has
// already submitted with an OVERLAPPED (stream.File/Socket does the actual
// ReadFile/WSARecv/WSASend call); the Queue only owns dispatching its
// completion.
type Queue struct {
	port windows.Handle

	associated map[int64]windows.Handle

	// pending holds live operations, keyed by the OVERLAPPED the kernel
	// will echo back in the completion entry. pendingByID mirrors the
	// current operation for each id so Wait can reject a second
	// concurrent operation on the same handle.
	pending     map[*windows.Overlapped]*iocpWaiter
	pendingByID map[int64]*windows.Overlapped

	// cancelled holds operations Unregister asked CancelIoEx to abort but
	// whose completion or cancellation notice hasn't arrived yet. Their
	// buffers must stay live (and findable by Tick) until exactly one of
	// those notices shows up; orphans are entries still in this map once
	// the id itself is gone from associated, i.e. nothing will ever Wait
	// on them again, but their memory can't be freed until the kernel
	// confirms.
	cancelled map[*windows.Overlapped]*iocpWaiter

	// entries is the reusable receive buffer for
	// GetQueuedCompletionStatusEx; grown, never reallocated per Tick.
	entries []windows.OverlappedEntry

	entered atomic.Bool
	closed  atomic.Bool
}

// Open creates a new, unassociated I/O completion port.
func Open(cfg *Config) (*Queue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "CreateIoCompletionPort"}
	}
	n := cfg.IOCPBatchSize
	if n <= 0 {
		n = 64
	}
	return &Queue{
		port:        port,
		associated:  make(map[int64]windows.Handle),
		pending:     make(map[*windows.Overlapped]*iocpWaiter),
		pendingByID: make(map[int64]*windows.Overlapped),
		cancelled:   make(map[*windows.Overlapped]*iocpWaiter),
		entries:     make([]windows.OverlappedEntry, n),
	}, nil
}

// Persist associates h with the port under completion key id. Unlike the
// readiness backends' Persist (armed per-wait, oneshot), this association
// is for the handle's entire lifetime: call it once, at handle creation,
// not before every operation.
func (q *Queue) Persist(id int64, h windows.Handle) error {
	if _, err := windows.CreateIoCompletionPort(h, q.port, uintptr(id), 0); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "CreateIoCompletionPort associate"}
	}
	// FILE_SKIP_COMPLETION_PORT_ON_SUCCESS makes a synchronous ReadFile/
	// WriteFile/WSARecv/WSASend success skip the port entirely, so a
	// synchronous byte count is authoritative and the caller must not wait
	// on the port for it.
	if err := windows.SetFileCompletionNotificationModes(h, windows.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "SetFileCompletionNotificationModes"}
	}
	q.associated[id] = h
	return nil
}

// Unregister forgets id's association. If id has an operation still
// outstanding, Unregister cancels it with CancelIoEx and moves its waiter
// into the orphan bookkeeping (the cancelled map) rather than dropping it:
// the buffer stays live, and Tick still dispatches it, once the kernel's
// completion or cancellation notice for it arrives. Unregistering an id with
// no outstanding operation, or no association at all, is a no-op.
func (q *Queue) Unregister(id int64) error {
	if ov, ok := q.pendingByID[id]; ok {
		h := q.associated[id]
		w := q.pending[ov]
		delete(q.pending, ov)
		delete(q.pendingByID, id)
		q.cancelled[ov] = w
		if err := windows.CancelIoEx(h, ov); err != nil && err != windows.ERROR_NOT_FOUND {
			delete(q.associated, id)
			return &aioerr.OSError{Message: err.Error(), Context: "CancelIoEx"}
		}
	}
	delete(q.associated, id)
	return nil
}

// Wait registers interest in an already-submitted overlapped operation on
// handle id. id must have been Persisted first, and must not already have
// an operation pending: at most one outstanding Wait is allowed per id, the
// same AlreadyQueued rule the readiness backends enforce.
func (q *Queue) Wait(id int64, ov *windows.Overlapped, resume func(Outcome)) error {
	h, ok := q.associated[id]
	if !ok {
		return &aioerr.UnregisteredHandleDefect{Detail: "Wait called for an id never Persisted with this Queue"}
	}
	if _, ok := q.pendingByID[id]; ok {
		return &aioerr.ValueError{Detail: "AlreadyQueued: an operation is already pending for this id"}
	}
	q.pending[ov] = &iocpWaiter{handle: h, resume: resume}
	q.pendingByID[id] = ov
	return nil
}

// Cancel cancels a pending overlapped operation on id's handle without
// forgetting id's association (unlike Unregister). The waiter moves into
// the cancelled bookkeeping; its buffer must remain valid (and must not be
// reused) until the cancellation or completion notice for it is dispatched
// through Tick, per Windows' overlapped-cancellation rules.
func (q *Queue) Cancel(id int64, ov *windows.Overlapped) error {
	h, ok := q.associated[id]
	if !ok {
		return &aioerr.UnregisteredHandleDefect{Detail: "Cancel called for an id never Persisted with this Queue"}
	}
	if w, ok := q.pending[ov]; ok {
		delete(q.pending, ov)
		delete(q.pendingByID, id)
		q.cancelled[ov] = w
	}
	if err := windows.CancelIoEx(h, ov); err != nil && err != windows.ERROR_NOT_FOUND {
		return &aioerr.OSError{Message: err.Error(), Context: "CancelIoEx"}
	}
	return nil
}

// Running reports whether any overlapped operation is still outstanding,
// including ones pending cancellation confirmation.
func (q *Queue) Running() bool {
	return len(q.pending) > 0 || len(q.cancelled) > 0
}

// Tick blocks until at least one overlapped operation completes or
// timeoutMillis elapses, then dispatches every completion retrieved this
// call. Satisfies cont.Driver.
func (q *Queue) Tick(timeoutMillis int64) error {
	if !q.entered.CompareAndSwap(false, true) {
		return &aioerr.ValueError{Detail: "Tick called re-entrantly on the same Queue"}
	}
	defer q.entered.Store(false)

	timeout := uint32(windows.INFINITE)
	if timeoutMillis >= 0 {
		timeout = uint32(timeoutMillis)
	}

	outstanding := len(q.pending) + len(q.cancelled)
	if cap(q.entries) < outstanding && outstanding > 0 {
		q.entries = make([]windows.OverlappedEntry, outstanding)
	}
	buf := q.entries
	if outstanding > 0 && outstanding < len(buf) {
		buf = buf[:outstanding]
	} else if outstanding == 0 {
		buf = buf[:cap(buf)]
	}

	var n uint32
	err := windows.GetQueuedCompletionStatusEx(q.port, buf, &n, timeout, false)
	if err == windows.WAIT_TIMEOUT {
		return nil
	}
	if err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "GetQueuedCompletionStatusEx"}
	}

	for i := uint32(0); i < n; i++ {
		entry := buf[i]
		w, ok := q.pending[entry.Overlapped]
		if ok {
			delete(q.pending, entry.Overlapped)
			for id, pov := range q.pendingByID {
				if pov == entry.Overlapped {
					delete(q.pendingByID, id)
					break
				}
			}
		} else if w, ok = q.cancelled[entry.Overlapped]; ok {
			// orphaned or not, this is the one notice (completion or
			// cancellation) that resolves it; the buffer can be freed now.
			delete(q.cancelled, entry.Overlapped)
		} else {
			return &aioerr.PrematureCloseDefect{ID: int64(entry.Key)}
		}
		out := Outcome{Transferred: entry.BytesTransferred}
		if entry.Internal != 0 {
			out.Err = &aioerr.OSError{
				Code:    int(entry.Internal),
				Message: "overlapped completion reported failure",
				Context: "IOCP",
			}
		}
		resume := w.resume
		if resume != nil {
			resume(out)
		}
	}
	return nil
}

// Run pumps Tick until no completions remain outstanding.
func (q *Queue) Run() error {
	for q.Running() {
		if err := q.Tick(-1); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the completion port handle.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return &aioerr.ClosedHandleDefect{Detail: "IOCP Queue already closed"}
	}
	return windows.CloseHandle(q.port)
}
