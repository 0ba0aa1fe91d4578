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

package stream

import (
	"fmt"
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/windows"
)

// Pipe wraps one end of an anonymous Windows pipe, represented internally
// as a one-instance named pipe (CreatePipe does not support
// FILE_FLAG_OVERLAPPED, so async pipes on Windows are always named pipes
// under the hood, same as the standard library does).
type Pipe struct {
	h *handle.Handle[PipeID]
	q *ioqueue.Queue
}

var pipeSerial atomic.Uint64

// NewPipe creates a connected read/write pipe pair. When async, both ends
// are opened with FILE_FLAG_OVERLAPPED so they may be used via
// Associate + ReadAsync/WriteAsync; otherwise they are plain synchronous
// handles.
func NewPipe(async bool) (r, w *Pipe, err error) {
	var flags uint32
	if async {
		flags = windows.FILE_FLAG_OVERLAPPED
	}
	name, err := windows.UTF16PtrFromString(fmt.Sprintf(`\\.\pipe\ioplex-aio-%d-%d`, windows.GetCurrentProcessId(), pipeSerial.Add(1)))
	if err != nil {
		return nil, nil, &aioerr.ValueError{Detail: err.Error()}
	}
	rh, err := windows.CreateNamedPipe(name,
		windows.PIPE_ACCESS_INBOUND|flags,
		windows.PIPE_TYPE_BYTE|windows.PIPE_WAIT,
		1, 4096, 4096, 0, nil)
	if err != nil || rh == windows.InvalidHandle {
		return nil, nil, &aioerr.OSError{Message: err.Error(), Context: "CreateNamedPipe"}
	}
	wh, err := windows.CreateFile(name, windows.GENERIC_WRITE, 0, nil, windows.OPEN_EXISTING, flags, 0)
	if err != nil {
		windows.CloseHandle(rh)
		return nil, nil, &aioerr.OSError{Message: err.Error(), Context: "CreateFile pipe write end"}
	}
	return &Pipe{h: handle.Make[PipeID](int64(rh), closeHandle)},
		&Pipe{h: handle.Make[PipeID](int64(wh), closeHandle)}, nil
}

// Handle borrows the raw Windows handle.
func (p *Pipe) Handle() windows.Handle { return windows.Handle(p.h.ID()) }

// Close best-effort unregisters p from the queue it was Associated with (if
// any), swallowing any error from that step, before releasing the handle.
func (p *Pipe) Close() error {
	if p.q != nil {
		_ = p.q.Unregister(p.h.ID())
	}
	return p.h.Close()
}

// Associate registers p's handle with q for the handle's entire remaining
// lifetime.
func (p *Pipe) Associate(q *ioqueue.Queue) error {
	if err := q.Persist(p.h.ID(), p.Handle()); err != nil {
		return err
	}
	p.q = q
	return nil
}

// Read performs a synchronous, possibly-short read. ERROR_BROKEN_PIPE (the
// write end closed) is reported as clean EOF.
func (p *Pipe) Read(dest []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(p.Handle(), dest, &n, nil)
	if err == windows.ERROR_BROKEN_PIPE {
		return 0, nil
	}
	if err != nil {
		return 0, &aioerr.IOError{Message: err.Error()}
	}
	return int(n), nil
}

// Write fully satisfies src: a short underlying write is retried until
// src is exhausted or an error occurs.
func (p *Pipe) Write(src []byte) (int, error) {
	total := 0
	for total < len(src) {
		var n uint32
		if err := windows.WriteFile(p.Handle(), src[total:], &n, nil); err != nil {
			return total, &aioerr.IOError{BytesTransferred: total, Message: err.Error()}
		}
		total += int(n)
	}
	return total, nil
}

// ReadAsync reads through q, resolving once the completion port delivers
// the outcome of the overlapped ReadFile.
func (p *Pipe) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	return overlappedOp(q, p.h.ID(), p.Handle(), 0, dest, windows.ReadFile,
		func(n uint32) (int64, error) { return 0, nil },
		func(err error) bool { return err == windows.ERROR_BROKEN_PIPE })
}

// WriteAsync writes through q.
func (p *Pipe) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	return overlappedOp(q, p.h.ID(), p.Handle(), 0, src, windows.WriteFile,
		func(n uint32) (int64, error) { return 0, nil },
		func(error) bool { return false })
}
