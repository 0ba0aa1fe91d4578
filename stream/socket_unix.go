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
	"math"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/endpoint"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/unix"
)

// Socket wraps a POSIX socket descriptor, sync or async, connection or
// listener. Its family/type are fixed at creation.
type Socket struct {
	h *handle.Handle[SocketID]
	q *ioqueue.Queue
}

// NewSocket creates a socket of the given family/socktype/protocol.
// Non-inheritable by default (SOCK_CLOEXEC); async requests SOCK_NONBLOCK.
func NewSocket(family, sotype, proto int, async bool) (*Socket, error) {
	flags := sotype | unix.SOCK_CLOEXEC
	if async {
		flags |= unix.SOCK_NONBLOCK
	}
	fd, err := unix.Socket(family, flags, proto)
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "socket"}
	}
	return &Socket{h: handle.Make[SocketID](int64(fd), closeFD)}, nil
}

// Fd borrows the raw descriptor.
func (s *Socket) Fd() int { return int(s.h.ID()) }

// Close best-effort unregisters s from the queue its last async operation
// used (if any), swallowing any error from that step, before releasing the
// descriptor.
func (s *Socket) Close() error {
	unregisterFDWaiters(s.q, s.Fd())
	return s.h.Close()
}

// Bind binds the local endpoint.
func (s *Socket) Bind(ep endpoint.Endpoint) error {
	sa, err := toSockaddr(ep)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.Fd(), sa); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "bind"}
	}
	return nil
}

// toSockaddr converts endpoint's bit-exact layout to the golang.org/x/sys/unix
// Sockaddr the syscall layer expects.
func toSockaddr(ep endpoint.Endpoint) (unix.Sockaddr, error) {
	if v4, ok := ep.V4(); ok {
		return &unix.SockaddrInet4{Port: int(v4.Port()), Addr: v4.Addr()}, nil
	}
	if v6, ok := ep.V6(); ok {
		return &unix.SockaddrInet6{Port: int(v6.Port()), ZoneId: v6.ScopeID(), Addr: v6.Addr()}, nil
	}
	return nil, &aioerr.ValueError{Detail: "endpoint holds neither V4 nor V6"}
}

// AddressFamily maps ep to the platform AF_INET/AF_INET6 constant needed by
// NewSocket, since endpoint.Family is a logical tag, not a syscall value.
func AddressFamily(ep endpoint.Endpoint) int {
	if ep.IsV6() {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// Listen marks the socket as a listener. backlog == stream.Default picks
// the largest sensible platform value (the kernel clamps), 0 means "OS
// default", any positive value is used verbatim.
func (s *Socket) Listen(backlog int) error {
	if backlog == Default {
		backlog = math.MaxInt32
	}
	if err := unix.Listen(s.Fd(), backlog); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "listen"}
	}
	return nil
}

// Read performs a synchronous, possibly-short read.
func (s *Socket) Read(dest []byte) (int, error) {
	for {
		n, err := unix.Read(s.Fd(), dest)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		return 0, &aioerr.IOError{Code: int(err.(unix.Errno)), Message: err.Error()}
	}
}

// Write performs a synchronous, possibly-short write (sockets permit short
// writes, unlike regular files).
func (s *Socket) Write(src []byte) (int, error) {
	n, err := unix.Write(s.Fd(), src)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &aioerr.IOError{BytesTransferred: n, Code: int(err.(unix.Errno)), Message: err.Error()}
	}
	return n, nil
}

// WriteV performs a scatter/gather write of bufs in a single writev(2) call.
func (s *Socket) WriteV(bufs [][]byte) (int, error) {
	n, err := unix.Writev(s.Fd(), bufs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &aioerr.IOError{BytesTransferred: n, Code: int(err.(unix.Errno)), Message: err.Error()}
	}
	return n, nil
}

// ReadV performs a scatter/gather read into bufs in a single readv(2) call.
func (s *Socket) ReadV(bufs [][]byte) (int, error) {
	for {
		n, err := unix.Readv(s.Fd(), bufs)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		return 0, &aioerr.IOError{BytesTransferred: n, Code: int(err.(unix.Errno)), Message: err.Error()}
	}
}

// Connect performs a blocking connect(2).
func (s *Socket) Connect(ep endpoint.Endpoint) error {
	sa, err := toSockaddr(ep)
	if err != nil {
		return err
	}
	if cerr := unix.Connect(s.Fd(), sa); cerr != nil {
		return &aioerr.OSError{Message: cerr.Error(), Context: "connect"}
	}
	return nil
}

// Accept performs a blocking accept4().
func (s *Socket) Accept() (*Socket, error) {
	for {
		fd, _, err := unix.Accept4(s.Fd(), unix.SOCK_CLOEXEC)
		if err == nil {
			return &Socket{h: handle.Make[SocketID](int64(fd), closeFD)}, nil
		}
		if err == unix.EINTR {
			continue
		}
		return nil, &aioerr.OSError{Message: err.Error(), Context: "accept4"}
	}
}

// ReadAsync reads through q, suspending on EAGAIN.
func (s *Socket) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	s.q = q
	return readinessLoop(q, s.Fd(), ioqueue.Read, func() (int, bool, error) {
		n, err := unix.Read(s.Fd(), dest)
		return classifyRW(n, err)
	})
}

// WriteAsync writes through q, suspending on EAGAIN.
func (s *Socket) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	s.q = q
	return readinessLoop(q, s.Fd(), ioqueue.Write, func() (int, bool, error) {
		n, err := unix.Write(s.Fd(), src)
		return classifyRW(n, err)
	})
}

// ConnectAsync issues connect(2); on EINPROGRESS it suspends on writability
// and then checks SO_ERROR.
func (s *Socket) ConnectAsync(q *ioqueue.Queue, ep endpoint.Endpoint) cont.Future[struct{}] {
	s.q = q
	sa, serr := toSockaddr(ep)
	if serr != nil {
		return cont.Errored[struct{}](serr)
	}
	err := unix.Connect(s.Fd(), sa)
	if err == nil {
		return cont.Resolved(struct{}{})
	}
	if err != unix.EINPROGRESS {
		return cont.Errored[struct{}](&aioerr.OSError{Message: err.Error(), Context: "connect"})
	}

	var resume func(w cont.Waker) cont.Future[struct{}]
	resume = func(w cont.Waker) cont.Future[struct{}] {
		id := int64(s.Fd())<<1 | 1
		perr := q.Persist(id, s.Fd(), ioqueue.Write, func(o ioqueue.Outcome) { w.Wake() })
		if perr != nil {
			return cont.Errored[struct{}](perr)
		}
		return cont.Pending(cont.Continuation[struct{}]{Resume: func(w2 cont.Waker) cont.Future[struct{}] {
			soerr, gerr := unix.GetsockoptInt(s.Fd(), unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				return cont.Errored[struct{}](&aioerr.OSError{Message: gerr.Error(), Context: "getsockopt SO_ERROR"})
			}
			if soerr != 0 {
				errno := unix.Errno(soerr)
				return cont.Errored[struct{}](&aioerr.OSError{Code: soerr, Message: errno.Error(), Context: "connect"})
			}
			return cont.Resolved(struct{}{})
		}})
	}
	return cont.Pending(cont.Continuation[struct{}]{Resume: resume})
}

// AcceptAsync suspends on readability and then accept4()s. The returned
// Socket is non-inheritable and non-blocking.
func (s *Socket) AcceptAsync(q *ioqueue.Queue) cont.Future[*Socket] {
	s.q = q
	var resume func(w cont.Waker) cont.Future[*Socket]
	resume = func(w cont.Waker) cont.Future[*Socket] {
		fd, _, err := unix.Accept4(s.Fd(), unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if err == nil {
			return cont.Resolved(&Socket{h: handle.Make[SocketID](int64(fd), closeFD)})
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			id := int64(s.Fd())<<1 | 0
			perr := q.Persist(id, s.Fd(), ioqueue.Read, func(o ioqueue.Outcome) { w.Wake() })
			if perr != nil {
				return cont.Errored[*Socket](perr)
			}
			return cont.Pending(cont.Continuation[*Socket]{Resume: resume})
		}
		if err == unix.EINTR {
			return cont.Pending(cont.Continuation[*Socket]{Resume: resume})
		}
		return cont.Errored[*Socket](&aioerr.OSError{Message: err.Error(), Context: "accept4"})
	}
	return cont.Pending(cont.Continuation[*Socket]{Resume: resume})
}
