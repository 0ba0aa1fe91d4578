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
	"testing"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/endpoint"
	"github.com/ioplex/aio/ioqueue"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newListener(t *testing.T) *Socket {
	t.Helper()
	ln, err := NewSocket(unix.AF_INET, unix.SOCK_STREAM, 0, false)
	require.NoError(t, err)
	require.NoError(t, ln.Bind(endpoint.FromV4(endpoint.NewV4(0, [4]byte{127, 0, 0, 1}))))
	require.NoError(t, ln.Listen(Default))
	return ln
}

func localAddr(t *testing.T, s *Socket) endpoint.Endpoint {
	t.Helper()
	sa, err := unix.Getsockname(s.Fd())
	require.NoError(t, err)
	v4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return endpoint.FromV4(endpoint.NewV4(uint16(v4.Port), v4.Addr))
}

func TestSocketSyncEcho(t *testing.T) {
	ln := newListener(t)
	defer ln.Close()
	addr := localAddr(t, ln)

	client, err := NewSocket(unix.AF_INET, unix.SOCK_STREAM, 0, false)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(addr))

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	payload := []byte("ping")
	n, err := client.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestSocketAsyncConnectAcceptReadWrite(t *testing.T) {
	ln := newListener(t)
	defer ln.Close()
	addr := localAddr(t, ln)

	q, err := ioqueue.Open(ioqueue.DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	clientAsync, err := NewSocket(unix.AF_INET, unix.SOCK_STREAM, 0, true)
	require.NoError(t, err)
	defer clientAsync.Close()

	connectFuture := clientAsync.ConnectAsync(q, addr)
	_, err = cont.Wait[struct{}](q, connectFuture)
	require.NoError(t, err)

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	payload := []byte("async ping")
	writeFuture := clientAsync.WriteAsync(q, payload)
	n, err := cont.Wait[int](q, writeFuture)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	nr, err := server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:nr])
}

// TestListenOnPortZeroTwiceYieldsDistinctPorts listens on 127.0.0.1:0
// twice; both localAddr(...) ports are non-zero and distinct.
func TestListenOnPortZeroTwiceYieldsDistinctPorts(t *testing.T) {
	ln1 := newListener(t)
	defer ln1.Close()
	ln2 := newListener(t)
	defer ln2.Close()

	addr1 := localAddr(t, ln1)
	addr2 := localAddr(t, ln2)
	v1, ok := addr1.V4()
	require.True(t, ok)
	v2, ok := addr2.V4()
	require.True(t, ok)

	require.NotZero(t, v1.Port())
	require.NotZero(t, v2.Port())
	require.NotEqual(t, v1.Port(), v2.Port())
}

// TestEchoDropRaisesIOErrorWithinRetries: a server accepts one connection
// and closes it immediately; the client observes
// read(buf)==0, then a subsequent write of 16 MiB raises an IOError within
// 10 retries (the peer's RST arrives after the local send buffer absorbs
// one or more writes).
func TestEchoDropRaisesIOErrorWithinRetries(t *testing.T) {
	ln := newListener(t)
	defer ln.Close()
	addr := localAddr(t, ln)

	client, err := NewSocket(unix.AF_INET, unix.SOCK_STREAM, 0, false)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(addr))

	server, err := ln.Accept()
	require.NoError(t, err)
	require.NoError(t, server.Close())

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	payload := make([]byte, 16<<20)
	var ioErr error
	for i := 0; i < 10 && ioErr == nil; i++ {
		_, werr := client.Write(payload)
		ioErr = werr
	}
	require.Error(t, ioErr)
	var ioError *aioerr.IOError
	require.ErrorAs(t, ioErr, &ioError)
}
