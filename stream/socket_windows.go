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
	"math"
	"sync"
	"syscall"
	"unsafe"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/endpoint"
	"github.com/ioplex/aio/handle"
	"github.com/ioplex/aio/ioqueue"
	"golang.org/x/sys/windows"
)

// syscallConnectEx and syscallAcceptEx call the mswsock extension
// functions resolved by loadExtensionFunc. mswsock does not ship a Go
// binding in golang.org/x/sys/windows, so the call goes through the raw
// stdlib syscall trampoline, same as net/internal/poll does internally.
func syscallConnectEx(fn, s, name uintptr, namelen int32, sendBuf, sendLen uintptr, bytesSent, ov uintptr) (uintptr, uintptr, syscall.Errno) {
	r1, r2, e1 := syscall.Syscall9(fn, 7, s, name, uintptr(namelen), sendBuf, sendLen, bytesSent, ov, 0, 0)
	return r1, r2, e1
}

func syscallAcceptEx(fn, listenSock, acceptSock, buf uintptr, recvLen, localLen, remoteLen uintptr, bytesReceived, ov uintptr) (uintptr, uintptr, syscall.Errno) {
	r1, r2, e1 := syscall.Syscall9(fn, 8, listenSock, acceptSock, buf, recvLen, localLen, remoteLen, bytesReceived, ov, 0)
	return r1, r2, e1
}

// Socket wraps a Winsock SOCKET, sync or async, connection or listener.
type Socket struct {
	h *handle.Handle[SocketID]
	q *ioqueue.Queue
}

func closeSocket(id int64) error {
	return windows.Closesocket(windows.Handle(id))
}

// NewSocket creates a socket of the given family/socktype/protocol.
// WSA_FLAG_NO_HANDLE_INHERIT makes it non-inheritable by default; async
// requests WSA_FLAG_OVERLAPPED so it can later be Associated with a Queue.
func NewSocket(family, sotype, proto int, async bool) (*Socket, error) {
	flags := uint32(windows.WSA_FLAG_NO_HANDLE_INHERIT)
	if async {
		flags |= windows.WSA_FLAG_OVERLAPPED
	}
	h, err := windows.WSASocket(int32(family), int32(sotype), int32(proto), nil, 0, flags)
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "WSASocket"}
	}
	return &Socket{h: handle.Make[SocketID](int64(h), closeSocket)}, nil
}

// Handle borrows the raw SOCKET.
func (s *Socket) Handle() windows.Handle { return windows.Handle(s.h.ID()) }

// Fd borrows the raw SOCKET as an int, for symmetry with the POSIX Socket.
func (s *Socket) Fd() int { return int(s.h.ID()) }

// Close best-effort unregisters s from the queue it was Associated with (if
// any), swallowing any error from that step, before releasing the socket.
func (s *Socket) Close() error {
	if s.q != nil {
		_ = s.q.Unregister(s.h.ID())
	}
	return s.h.Close()
}

// Associate registers s's handle with q for the handle's entire remaining
// lifetime.
func (s *Socket) Associate(q *ioqueue.Queue) error {
	if err := q.Persist(s.h.ID(), s.Handle()); err != nil {
		return err
	}
	s.q = q
	return nil
}

func toSockaddr(ep endpoint.Endpoint) (windows.Sockaddr, error) {
	if v4, ok := ep.V4(); ok {
		return &windows.SockaddrInet4{Port: int(v4.Port()), Addr: v4.Addr()}, nil
	}
	if v6, ok := ep.V6(); ok {
		return &windows.SockaddrInet6{Port: int(v6.Port()), ZoneId: uint32(v6.ScopeID()), Addr: v6.Addr()}, nil
	}
	return nil, &aioerr.ValueError{Detail: "endpoint holds neither V4 nor V6"}
}

// AddressFamily maps ep to the platform AF_INET/AF_INET6 constant needed by
// NewSocket, since endpoint.Family is a logical tag, not a syscall value.
func AddressFamily(ep endpoint.Endpoint) int {
	if ep.IsV6() {
		return windows.AF_INET6
	}
	return windows.AF_INET
}

// Bind binds the local endpoint.
func (s *Socket) Bind(ep endpoint.Endpoint) error {
	sa, err := toSockaddr(ep)
	if err != nil {
		return err
	}
	if err := windows.Bind(s.Handle(), sa); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "bind"}
	}
	return nil
}

// Listen marks the socket as a listener. backlog == stream.Default picks
// SOMAXCONN.
func (s *Socket) Listen(backlog int) error {
	if backlog == Default {
		backlog = math.MaxInt32
	}
	if err := windows.Listen(s.Handle(), backlog); err != nil {
		return &aioerr.OSError{Message: err.Error(), Context: "listen"}
	}
	return nil
}

// Read performs a synchronous, possibly-short read.
func (s *Socket) Read(dest []byte) (int, error) {
	n, err := windows.Recv(s.Handle(), dest, 0)
	if err != nil {
		return 0, &aioerr.IOError{Message: err.Error()}
	}
	return n, nil
}

// Write performs a synchronous, possibly-short write.
func (s *Socket) Write(src []byte) (int, error) {
	n, err := windows.Send(s.Handle(), src, 0)
	if err != nil {
		return 0, &aioerr.IOError{BytesTransferred: n, Message: err.Error()}
	}
	return n, nil
}

// WriteV performs a scatter/gather write of bufs in a single WSASend call.
func (s *Socket) WriteV(bufs [][]byte) (int, error) {
	wsabufs := make([]windows.WSABuf, len(bufs))
	for i, b := range bufs {
		wsabufs[i] = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	}
	var sent uint32
	if len(wsabufs) == 0 {
		return 0, nil
	}
	if err := windows.WSASend(s.Handle(), &wsabufs[0], uint32(len(wsabufs)), &sent, 0, nil, nil); err != nil {
		return 0, &aioerr.IOError{BytesTransferred: int(sent), Message: err.Error()}
	}
	return int(sent), nil
}

// ReadV performs a scatter/gather read into bufs in a single WSARecv call.
func (s *Socket) ReadV(bufs [][]byte) (int, error) {
	wsabufs := make([]windows.WSABuf, len(bufs))
	for i, b := range bufs {
		wsabufs[i] = windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
	}
	var recvd, flags uint32
	if len(wsabufs) == 0 {
		return 0, nil
	}
	if err := windows.WSARecv(s.Handle(), &wsabufs[0], uint32(len(wsabufs)), &recvd, &flags, nil, nil); err != nil {
		return 0, &aioerr.IOError{BytesTransferred: int(recvd), Message: err.Error()}
	}
	return int(recvd), nil
}

// Connect performs a blocking connect.
func (s *Socket) Connect(ep endpoint.Endpoint) error {
	sa, err := toSockaddr(ep)
	if err != nil {
		return err
	}
	if cerr := windows.Connect(s.Handle(), sa); cerr != nil {
		return &aioerr.OSError{Message: cerr.Error(), Context: "connect"}
	}
	return nil
}

// Accept performs a blocking accept.
func (s *Socket) Accept() (*Socket, error) {
	fd, _, err := windows.Accept(s.Handle())
	if err != nil {
		return nil, &aioerr.OSError{Message: err.Error(), Context: "accept"}
	}
	return &Socket{h: handle.Make[SocketID](int64(fd), closeSocket)}, nil
}

// ReadAsync issues an overlapped WSARecv and resolves through q, which s
// must already have been Associated with.
func (s *Socket) ReadAsync(q *ioqueue.Queue, dest []byte) cont.Future[int] {
	return overlappedOp(q, s.h.ID(), s.Handle(), 0, dest,
		func(h windows.Handle, b []byte, n *uint32, ov *windows.Overlapped) error {
			buf := windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
			var flags uint32
			return windows.WSARecv(h, &buf, 1, n, &flags, ov, nil)
		},
		func(uint32) (int64, error) { return 0, nil },
		func(error) bool { return false })
}

// WriteAsync issues an overlapped WSASend and resolves through q.
func (s *Socket) WriteAsync(q *ioqueue.Queue, src []byte) cont.Future[int] {
	return overlappedOp(q, s.h.ID(), s.Handle(), 0, src,
		func(h windows.Handle, b []byte, n *uint32, ov *windows.Overlapped) error {
			buf := windows.WSABuf{Len: uint32(len(b)), Buf: bufPtr(b)}
			return windows.WSASend(h, &buf, 1, n, 0, ov, nil)
		},
		func(uint32) (int64, error) { return 0, nil },
		func(error) bool { return false })
}

func bufPtr(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

var (
	mswsock              = windows.NewLazySystemDLL("mswsock.dll")
	connectExOnce         sync.Once
	connectExFn           uintptr
	acceptExOnce          sync.Once
	acceptExFn            uintptr
	getAcceptExSockaddrsFn uintptr
)

// loadExtensionFunc resolves a Winsock extension function pointer via
// WSAIoctl(SIO_GET_EXTENSION_FUNCTION_POINTER), the documented way to reach
// ConnectEx/AcceptEx since they are not ordinary exports.
func loadExtensionFunc(s windows.Handle, guid *windows.GUID) (uintptr, error) {
	var fn uintptr
	var n uint32
	err := windows.WSAIoctl(s, windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(guid)), uint32(unsafe.Sizeof(*guid)),
		(*byte)(unsafe.Pointer(&fn)), uint32(unsafe.Sizeof(fn)),
		&n, nil, 0)
	if err != nil {
		return 0, &aioerr.OSError{Message: err.Error(), Context: "WSAIoctl SIO_GET_EXTENSION_FUNCTION_POINTER"}
	}
	return fn, nil
}

var wsaidConnectEx = windows.GUID{Data1: 0x25a207b9, Data2: 0xddf3, Data3: 0x4660,
	Data4: [8]byte{0x8e, 0xe9, 0x76, 0xe5, 0x8c, 0x74, 0x06, 0x3e}}

var wsaidAcceptEx = windows.GUID{Data1: 0xb5367df1, Data2: 0xcbac, Data3: 0x11cf,
	Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92}}

// ConnectAsync issues ConnectEx, which on Windows requires the socket be
// bound first. It suspends until the completion port reports the
// outcome, then applies SO_UPDATE_CONNECT_CONTEXT so getsockname/getpeername
// and subsequent send/recv behave normally on the connected socket.
func (s *Socket) ConnectAsync(q *ioqueue.Queue, ep endpoint.Endpoint) cont.Future[struct{}] {
	connectExOnce.Do(func() {
		fn, err := loadExtensionFunc(s.Handle(), &wsaidConnectEx)
		if err == nil {
			connectExFn = fn
		}
	})
	if connectExFn == 0 {
		return cont.Errored[struct{}](&aioerr.OSError{Message: "ConnectEx unavailable", Context: "WSAIoctl"})
	}
	sa, err := toSockaddr(ep)
	if err != nil {
		return cont.Errored[struct{}](err)
	}
	rsa, rsaLen, err := sockaddrPointer(sa)
	if err != nil {
		return cont.Errored[struct{}](err)
	}

	ov := &windows.Overlapped{}
	var n uint32
	r1, _, e1 := syscallConnectEx(connectExFn, uintptr(s.Handle()), rsa, rsaLen, 0, 0, uintptr(unsafe.Pointer(&n)), uintptr(unsafe.Pointer(ov)))
	if r1 == 0 && e1 != windows.ERROR_IO_PENDING {
		return cont.Errored[struct{}](&aioerr.OSError{Message: e1.Error(), Context: "ConnectEx"})
	}

	var resume func(w cont.Waker) cont.Future[struct{}]
	resume = func(w cont.Waker) cont.Future[struct{}] {
		var out ioqueue.Outcome
		got := false
		werr := q.Wait(s.h.ID(), ov, func(o ioqueue.Outcome) { out = o; got = true; w.Wake() })
		if werr != nil {
			return cont.Errored[struct{}](werr)
		}
		return cont.Pending(cont.Continuation[struct{}]{Resume: func(w2 cont.Waker) cont.Future[struct{}] {
			if !got {
				return cont.Pending(cont.Continuation[struct{}]{Resume: resume})
			}
			if out.Err != nil {
				return cont.Errored[struct{}](out.Err)
			}
			if serr := windows.Setsockopt(s.Handle(), windows.SOL_SOCKET, windows.SO_UPDATE_CONNECT_CONTEXT, nil, 0); serr != nil {
				return cont.Errored[struct{}](&aioerr.OSError{Message: serr.Error(), Context: "SO_UPDATE_CONNECT_CONTEXT"})
			}
			return cont.Resolved(struct{}{})
		}})
	}
	return cont.Pending(cont.Continuation[struct{}]{Resume: resume})
}

// AcceptAsync issues AcceptEx on a freshly created socket and resolves to
// the accepted Socket once the completion port reports success.
func (s *Socket) AcceptAsync(q *ioqueue.Queue) cont.Future[*Socket] {
	acceptExOnce.Do(func() {
		fn, err := loadExtensionFunc(s.Handle(), &wsaidAcceptEx)
		if err == nil {
			acceptExFn = fn
		}
	})
	if acceptExFn == 0 {
		return cont.Errored[*Socket](&aioerr.OSError{Message: "AcceptEx unavailable", Context: "WSAIoctl"})
	}
	accepted, err := NewSocket(windows.AF_INET, windows.SOCK_STREAM, 0, true)
	if err != nil {
		return cont.Errored[*Socket](err)
	}

	const sockaddrSize = 16 + 16 // sizeof(sockaddr_in)+16 padding, per AcceptEx's documented requirement
	buf := make([]byte, 2*sockaddrSize)
	ov := &windows.Overlapped{}
	var n uint32
	r1, _, e1 := syscallAcceptEx(acceptExFn, uintptr(s.Handle()), uintptr(accepted.Handle()),
		uintptr(unsafe.Pointer(&buf[0])), 0, sockaddrSize, sockaddrSize,
		uintptr(unsafe.Pointer(&n)), uintptr(unsafe.Pointer(ov)))
	if r1 == 0 && e1 != windows.ERROR_IO_PENDING {
		accepted.Close()
		return cont.Errored[*Socket](&aioerr.OSError{Message: e1.Error(), Context: "AcceptEx"})
	}

	var resume func(w cont.Waker) cont.Future[*Socket]
	resume = func(w cont.Waker) cont.Future[*Socket] {
		var out ioqueue.Outcome
		got := false
		werr := q.Wait(s.h.ID(), ov, func(o ioqueue.Outcome) { out = o; got = true; w.Wake() })
		if werr != nil {
			return cont.Errored[*Socket](werr)
		}
		return cont.Pending(cont.Continuation[*Socket]{Resume: func(w2 cont.Waker) cont.Future[*Socket] {
			if !got {
				return cont.Pending(cont.Continuation[*Socket]{Resume: resume})
			}
			if out.Err != nil {
				accepted.Close()
				return cont.Errored[*Socket](out.Err)
			}
			lsa := s.Handle()
			if serr := windows.Setsockopt(accepted.Handle(), windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
				(*byte)(unsafe.Pointer(&lsa)), int32(unsafe.Sizeof(lsa))); serr != nil {
				accepted.Close()
				return cont.Errored[*Socket](&aioerr.OSError{Message: serr.Error(), Context: "SO_UPDATE_ACCEPT_CONTEXT"})
			}
			return cont.Resolved(accepted)
		}})
	}
	return cont.Pending(cont.Continuation[*Socket]{Resume: resume})
}

func sockaddrPointer(sa windows.Sockaddr) (uintptr, int32, error) {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		raw := windows.RawSockaddrInet4{Family: windows.AF_INET}
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(v.Port >> 8)
		p[1] = byte(v.Port)
		raw.Addr = v.Addr
		return uintptr(unsafe.Pointer(&raw)), int32(unsafe.Sizeof(raw)), nil
	case *windows.SockaddrInet6:
		raw := windows.RawSockaddrInet6{Family: windows.AF_INET6}
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(v.Port >> 8)
		p[1] = byte(v.Port)
		raw.Addr = v.Addr
		raw.Scope_id = v.ZoneId
		return uintptr(unsafe.Pointer(&raw)), int32(unsafe.Sizeof(raw)), nil
	default:
		return 0, 0, &aioerr.ValueError{Detail: "unsupported sockaddr type"}
	}
}
