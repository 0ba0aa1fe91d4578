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
	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/unix"
)

// Pipe wraps one end of an anonymous pipe. ReadEnd and WriteEnd share the
// underlying fd semantics with File; it is a distinct type only so a
// Pipe's read end can't accidentally be passed where a writable File is
// expected.
type Pipe struct {
	h *handle.Handle[PipeID]
	q *ioqueue.Queue
}

// NewPipe creates an anonymous pipe, returning (readEnd, writeEnd). Both
// ends are non-inheritable (O_CLOEXEC); async additionally sets O_NONBLOCK
// on both ends so ReadAsync/WriteAsync can suspend on EAGAIN instead of
// blocking the calling goroutine.
func NewPipe(async bool) (r, w *Pipe, err error) {
	flags := unix.O_CLOEXEC
	if async {
		flags |= unix.O_NONBLOCK
	}
	var fds [2]int
	if perr := unix.Pipe2(fds[:], flags); perr != nil {
		return nil, nil, &aioerr.OSError{Message: perr.Error(), Context: "pipe2"}
	}
	r = &Pipe{h: handle.Make[PipeID](int64(fds[0]), closeFD)}
	w = &Pipe{h: handle.Make[PipeID](int64(fds[1]), closeFD)}
	return r, w, nil
}

// Fd borrows the raw descriptor.
func (p *Pipe) Fd() int { return int(p.h.ID()) }

// Close best-effort unregisters p from the queue its last async operation
// used (if any), swallowing any error from that step, before releasing the
// descriptor.
func (p *Pipe) Close() error {
	unregisterFDWaiters(p.q, p.Fd())
	return p.h.Close()
}

// Read performs a synchronous read. Reading a pipe whose write end is
// closed returns (0, nil): EOF, no error.
func (p *Pipe) Read(dest []byte) (int, error) {
	for {
		n, err := unix.Read(p.Fd(), dest)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		return 0, &aioerr.IOError{Code: int(err.(unix.Errno)), Message: err.Error()}
	}
}

// Write performs a synchronous write, which may be short (pipes impose
// short writes under back-pressure, unlike regular files).
func (p *Pipe) Write(src []byte) (int, error) {
	n, err := unix.Write(p.Fd(), src)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &aioerr.IOError{BytesTransferred: n, Code: int(err.(unix.Errno)), Message: err.Error()}
	}
	return n, nil
}

// ReadAsync reads through q, suspending on EAGAIN.
func (p *Pipe) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	p.q = q
	return readinessLoop(q, p.Fd(), ioqueue.Read, func() (int, bool, error) {
		n, err := unix.Read(p.Fd(), dest)
		return classifyRW(n, err)
	})
}

// WriteAsync writes through q, suspending on EAGAIN.
func (p *Pipe) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	p.q = q
	return readinessLoop(q, p.Fd(), ioqueue.Write, func() (int, bool, error) {
		n, err := unix.Write(p.Fd(), src)
		return classifyRW(n, err)
	})
}
