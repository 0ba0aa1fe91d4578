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

package stream

import (
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/internal/iouring"
)

// IOUringFile pairs a File with an io_uring event loop, giving it vectored
// bulk-transfer methods that bypass the per-byte epoll readiness loop
// File.ReadAsync/WriteAsync use. It does not replace epoll as the
// EventQueue backend; it is purely a bulk-transfer accelerator for
// seekable files, resolved through the same cont.Future contract so
// callers cannot tell which backend serviced the request.
type IOUringFile struct {
	*File
	loop *iouring.IOUringEventLoop
}

// WithIOUring pairs f with loop.
func WithIOUring(f *File, loop *iouring.IOUringEventLoop) *IOUringFile {
	return &IOUringFile{File: f, loop: loop}
}

// ReadAtAsync issues a vectored read across bufs through the io_uring
// submission/completion rings.
func (f *IOUringFile) ReadAtAsync(bufs ...[]byte) cont.Future[int] {
	return adaptIOUringFuture(f.loop.Read(int32(f.Fd()), bufs...))
}

// WriteAtAsync issues a vectored write across bufs through the io_uring
// submission/completion rings.
func (f *IOUringFile) WriteAtAsync(bufs ...[]byte) cont.Future[int] {
	return adaptIOUringFuture(f.loop.Write(int32(f.Fd()), bufs...))
}

// adaptIOUringFuture is the same "be your own driver for a sub-future"
// pattern resolver.LookupAndDial uses: it bridges the int32-valued future
// internal/iouring returns to the int-valued contract every other async
// stream op exposes.
func adaptIOUringFuture(inner cont.Future[int32]) cont.Future[int] {
	var resume func(w cont.Waker) cont.Future[int]
	resume = func(w cont.Waker) cont.Future[int] {
		inner = cont.Poll(inner, w)
		if inner.Ready() {
			n, err := inner.Value()
			if err != nil {
				return cont.Errored[int](err)
			}
			return cont.Resolved(int(n))
		}
		return cont.Pending(cont.Continuation[int]{Resume: resume})
	}
	return cont.Pending(cont.Continuation[int]{Resume: resume})
}
