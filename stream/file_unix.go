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

//go:build !windows

package stream

import (
	"os"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/unix"
)

// File wraps a regular, seekable OS file descriptor.
type File struct {
	h *handle.Handle[FileID]
	q *ioqueue.Queue
}

// OpenFile opens path with the given flag/perm, matching os.OpenFile's
// argument shape since that's the idiom readers of this package already
// know.
func OpenFile(path string, flag int, perm os.FileMode) (*File, error) {
	fd, err := unix.Open(path, flag|unix.O_CLOEXEC, uint32(perm))
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "open " + path}
	}
	return &File{h: handle.Make[FileID](int64(fd), closeFD)}, nil
}

func closeFD(id int64) error {
	return unix.Close(int(id))
}

// Fd borrows the raw descriptor.
func (f *File) Fd() int { return int(f.h.ID()) }

// Close best-effort unregisters f from the queue its last async operation
// used (if any), swallowing any error from that step, before releasing the
// descriptor. A sync-only File was never registered, so this is a no-op.
func (f *File) Close() error {
	unregisterFDWaiters(f.q, f.Fd())
	return f.h.Close()
}

// Read performs a single, possibly-short synchronous read, retrying
// transparently on EINTR. Returns (0, nil) at EOF.
func (f *File) Read(dest []byte) (int, error) {
	for {
		n, err := unix.Read(f.Fd(), dest)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		return 0, &aioerr.IOError{BytesTransferred: 0, Code: int(err.(unix.Errno)), Message: err.Error()}
	}
}

// Write fully satisfies src for a regular file: a short underlying write
// is retried until src is exhausted or an error occurs.
func (f *File) Write(src []byte) (int, error) {
	total := 0
	for total < len(src) {
		n, err := unix.Write(f.Fd(), src[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, &aioerr.IOError{BytesTransferred: total, Code: int(err.(unix.Errno)), Message: err.Error()}
		}
		total += n
		if n == 0 {
			return total, &aioerr.IOError{BytesTransferred: total, Message: "short write with no progress"}
		}
	}
	return total, nil
}

// ReadAsync reads through q, suspending on EAGAIN via wait(fd, Read) and
// retrying on resumption until data, EOF, or a non-transient error.
func (f *File) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	f.q = q
	return readinessLoop(q, f.Fd(), ioqueue.Read, func() (int, bool, error) {
		n, err := unix.Read(f.Fd(), dest)
		return classifyRW(n, err)
	})
}

// WriteAsync writes through q, suspending on EAGAIN via wait(fd, Write).
func (f *File) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	f.q = q
	return readinessLoop(q, f.Fd(), ioqueue.Write, func() (int, bool, error) {
		n, err := unix.Write(f.Fd(), src)
		return classifyRW(n, err)
	})
}

// classifyRW turns a raw (n, err) pair from read(2)/write(2) into
// (n, wouldBlock, error), folding both EINTR and EAGAIN/EWOULDBLOCK into
// "suspend" (wouldBlock true): readinessLoop re-issues the syscall once the
// fd reports ready again.
func classifyRW(n int, err error) (int, bool, error) {
	if err == nil {
		return n, false, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, true, nil
	}
	if err == unix.EINTR {
		return 0, true, nil
	}
	return 0, false, &aioerr.IOError{Code: int(err.(unix.Errno)), Message: err.Error()}
}

// unregisterFDWaiters best-effort removes any waiter fd may still have
// registered with q, covering both ids readinessLoop's packing scheme can
// produce for fd (one for Read, one for Write). Unregister on an id with no
// registration is a no-op, so this is safe to call unconditionally; q nil
// (the handle was never used asynchronously) is also a no-op.
func unregisterFDWaiters(q *ioqueue.Queue, fd int) {
	if q == nil {
		return
	}
	_ = q.Unregister(int64(fd)<<1 | 0)
	_ = q.Unregister(int64(fd)<<1 | 1)
}

// readinessLoop is the shared async read/write state machine used by
// File, Pipe and Socket on the readiness backends: attempt, and on
// would-block suspend via Persist(fd, ev) until resumed, then retry.
func readinessLoop(q *ioqueue.Queue, fd int, ev ioqueue.ReadyEvent, attempt func() (int, bool, error)) cont.Future[int] {
	var resume func(w cont.Waker) cont.Future[int]
	resume = func(w cont.Waker) cont.Future[int] {
		n, wouldBlock, err := attempt()
		if err != nil {
			return cont.Errored[int](err)
		}
		if !wouldBlock {
			return cont.Resolved(n)
		}
		// id packs fd and event into one registration key; epoll/kqueue
		// enforce at most one waiter per (fd,event) anyway, so this just
		// needs to be unique per pair.
		id := int64(fd)<<1 | int64(ev)&1
		perr := q.Persist(id, fd, ev, func(o ioqueue.Outcome) {
			w.Wake()
		})
		if perr != nil {
			return cont.Errored[int](perr)
		}
		return cont.Pending(cont.Continuation[int]{Resume: resume})
	}
	return cont.Pending(cont.Continuation[int]{Resume: resume})
}
