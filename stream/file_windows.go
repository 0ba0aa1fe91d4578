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
	"sync/atomic"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cache/mempool"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/windows"
)

// File wraps a seekable Windows file HANDLE. Overlapped I/O does not
// advance the kernel's file pointer, so File tracks its own 64-bit
// position and advances it after every completed operation, raising
// aioerr.OverflowDefect instead of wrapping.
type File struct {
	h        *handle.Handle[FileID]
	position int64
	q        *ioqueue.Queue
}

func closeHandle(id int64) error {
	return windows.CloseHandle(windows.Handle(id))
}

// OpenFile opens path. If async is true the handle is opened with
// FILE_FLAG_OVERLAPPED; call Associate before any *Async method.
func OpenFile(path string, access, shareMode, creation uint32, async bool) (*File, error) {
	flags := uint32(windows.FILE_ATTRIBUTE_NORMAL)
	if async {
		flags |= windows.FILE_FLAG_OVERLAPPED
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, &aioerr.ValueError{Detail: err.Error()}
	}
	h, err := windows.CreateFile(p, access, shareMode, nil, creation, flags, 0)
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "CreateFile"}
	}
	return &File{h: handle.Make[FileID](int64(h), closeHandle)}, nil
}

// Handle borrows the raw Windows handle.
func (f *File) Handle() windows.Handle { return windows.Handle(f.h.ID()) }

// Close best-effort unregisters f from the queue it was Associated with (if
// any), swallowing any error from that step, before releasing the handle.
func (f *File) Close() error {
	if f.q != nil {
		_ = f.q.Unregister(f.h.ID())
	}
	return f.h.Close()
}

// Associate registers f's handle with q for its entire remaining
// lifetime, per ioqueue's IOCP Persist contract.
func (f *File) Associate(q *ioqueue.Queue) error {
	if err := q.Persist(f.h.ID(), f.Handle()); err != nil {
		return err
	}
	f.q = q
	return nil
}

// Read performs a synchronous, possibly-short read. ERROR_HANDLE_EOF and
// ERROR_BROKEN_PIPE are reported as clean EOF (0, nil).
func (f *File) Read(dest []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(f.Handle(), dest, &n, nil)
	if err == windows.ERROR_HANDLE_EOF || err == windows.ERROR_BROKEN_PIPE {
		return 0, nil
	}
	if err != nil {
		return 0, &aioerr.IOError{Message: err.Error()}
	}
	return int(n), nil
}

// Write fully satisfies src for a regular file: a short underlying write
// is retried until src is exhausted or an error occurs.
func (f *File) Write(src []byte) (int, error) {
	total := 0
	for total < len(src) {
		var n uint32
		if err := windows.WriteFile(f.Handle(), src[total:], &n, nil); err != nil {
			return total, &aioerr.IOError{BytesTransferred: total, Message: err.Error()}
		}
		if n == 0 {
			return total, &aioerr.IOError{BytesTransferred: total, Message: "short write with no progress"}
		}
		total += int(n)
	}
	return total, nil
}

// advance bumps f's tracked position by n.
func (f *File) advance(n uint32) (int64, error) {
	cur := atomic.LoadInt64(&f.position)
	next := cur + int64(n)
	if next < cur {
		return 0, &aioerr.OverflowDefect{Detail: "file position counter overflowed 64 bits"}
	}
	atomic.StoreInt64(&f.position, next)
	return cur, nil
}

// ReadAsync issues an overlapped ReadFile at f's tracked position and
// resolves through q, which f must already have been Associated with.
func (f *File) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	return overlappedOp(q, f.h.ID(), f.Handle(), f.position, dest, windows.ReadFile, f.advance,
		func(err error) bool {
			return err == windows.ERROR_HANDLE_EOF || err == windows.ERROR_BROKEN_PIPE
		})
}

// WriteAsync issues an overlapped WriteFile at f's tracked position and
// resolves through q, which f must already have been Associated with.
func (f *File) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	return overlappedOp(q, f.h.ID(), f.Handle(), f.position, src, windows.WriteFile, f.advance,
		func(error) bool { return false })
}

// overlappedOp drives one overlapped ReadFile/WriteFile through q on a
// completion-backed contract: issue the call; on immediate success or
// isEOF(err) resolve directly; on ERROR_IO_PENDING
// suspend until the completion port dispatches the outcome. The kernel
// buffer is allocated from cache/mempool so it stays alive (and is not
// aliased by further caller writes) until the completion is confirmed, per
// the overlapped-I/O buffer-lifetime rule.
func overlappedOp(
	q *ioqueue.Queue,
	id int64,
	h windows.Handle,
	startPos int64,
	buf []byte,
	call func(windows.Handle, []byte, *uint32, *windows.Overlapped) error,
	advance func(uint32) (int64, error),
	isEOF func(error) bool,
) cont.Future[int] {
	kbuf := mempool.Malloc(len(buf))
	copy(kbuf, buf)

	ov := &windows.Overlapped{
		Offset:     uint32(uint64(startPos)),
		OffsetHigh: uint32(uint64(startPos) >> 32),
	}
	var n uint32
	err := call(h, kbuf, &n, ov)
	if err == nil {
		defer mempool.Free(kbuf)
		if _, aerr := advance(n); aerr != nil {
			return cont.Errored[int](aerr)
		}
		copy(buf, kbuf[:n])
		return cont.Resolved(int(n))
	}
	if isEOF(err) {
		mempool.Free(kbuf)
		return cont.Resolved(0)
	}
	if err != windows.ERROR_IO_PENDING {
		mempool.Free(kbuf)
		return cont.Errored[int](&aioerr.IOError{Message: err.Error()})
	}

	var resume func(w cont.Waker) cont.Future[int]
	resume = func(w cont.Waker) cont.Future[int] {
		var out ioqueue.Outcome
		got := false
		werr := q.Wait(id, ov, func(o ioqueue.Outcome) {
			out = o
			got = true
			w.Wake()
		})
		if werr != nil {
			mempool.Free(kbuf)
			return cont.Errored[int](werr)
		}
		return cont.Pending(cont.Continuation[int]{Resume: func(w2 cont.Waker) cont.Future[int] {
			if !got {
				return cont.Pending(cont.Continuation[int]{Resume: resume})
			}
			defer mempool.Free(kbuf)
			if out.Err != nil && !isEOF(out.Err) {
				return cont.Errored[int](&aioerr.IOError{BytesTransferred: int(out.Transferred), Message: out.Err.Error()})
			}
			if _, aerr := advance(out.Transferred); aerr != nil {
				return cont.Errored[int](aerr)
			}
			copy(buf, kbuf[:out.Transferred])
			return cont.Resolved(int(out.Transferred))
		}})
	}
	return cont.Pending(cont.Continuation[int]{Resume: resume})
}
