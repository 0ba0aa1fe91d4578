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
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/ioplex/aio/aioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFd(t *testing.T, c net.Conn) int {
	t.Helper()
	sc, ok := c.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	require.True(t, ok)
	rc, err := sc.SyscallConn()
	require.NoError(t, err)
	var fd int
	require.NoError(t, rc.Control(func(f uintptr) { fd = int(f) }))
	return fd
}

func TestKqueuePersistFiresOnWritable(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		assert.NoError(t, err)
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	<-accepted

	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	fd := rawFd(t, client)
	fired := make(chan Outcome, 1)
	require.NoError(t, q.Persist(1, fd, Write, func(o Outcome) { fired <- o }))

	require.NoError(t, q.Tick(1000))
	select {
	case o := <-fired:
		assert.Equal(t, Write, o.Event)
		assert.Nil(t, o.Err)
	case <-time.After(time.Second):
		t.Fatal("writable event never fired")
	}
}

func TestKqueuePriorityReadRejected(t *testing.T) {
	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()
	err = q.Persist(1, 0, PriorityRead, func(Outcome) {})
	assert.Error(t, err)
}

func TestKqueueRunningReflectsRegistrations(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	assert.False(t, q.Running())
	fd := rawFd(t, client)
	require.NoError(t, q.Persist(1, fd, Write, func(Outcome) {}))
	assert.True(t, q.Running())
	require.NoError(t, q.Unregister(1))
	assert.False(t, q.Running())
}

func TestKqueueWaitRejectsSecondConcurrentWaiter(t *testing.T) {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	fd := rawFd(t, client)
	require.NoError(t, q.Persist(1, fd, Write, func(Outcome) {}))

	// fd's interest is still pending (no Tick yet): a second waiter for
	// the same id must be rejected, not silently swap out the first.
	err = q.Wait(1, func(Outcome) {})
	require.Error(t, err)
	var verr *aioerr.ValueError
	assert.ErrorAs(t, err, &verr)
}

func TestKqueueWaitWithoutPersistIsDefect(t *testing.T) {
	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	err = q.Wait(1, func(Outcome) {})
	require.Error(t, err)
	var defect *aioerr.UnregisteredHandleDefect
	assert.ErrorAs(t, err, &defect)
}
