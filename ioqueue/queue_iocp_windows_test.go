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
	"testing"

	"github.com/ioplex/aio/aioerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func TestIOCPWaitWithoutPersistIsDefect(t *testing.T) {
	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	err = q.Wait(1, &windows.Overlapped{}, func(Outcome) {})
	assert.Error(t, err)
}

func TestIOCPPersistThenUnregister(t *testing.T) {
	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	r, w, err := os_Pipe(t)
	require.NoError(t, err)
	defer windows.CloseHandle(r)
	defer windows.CloseHandle(w)

	require.NoError(t, q.Persist(1, r))
	assert.False(t, q.Running())
	require.NoError(t, q.Unregister(1))
}

func TestIOCPWaitRejectsSecondConcurrentWaiter(t *testing.T) {
	q, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer q.Close()

	r, w, err := os_Pipe(t)
	require.NoError(t, err)
	defer windows.CloseHandle(r)
	defer windows.CloseHandle(w)

	require.NoError(t, q.Persist(1, r))
	require.NoError(t, q.Wait(1, &windows.Overlapped{}, func(Outcome) {}))

	err = q.Wait(1, &windows.Overlapped{}, func(Outcome) {})
	require.Error(t, err)
	var verr *aioerr.ValueError
	assert.ErrorAs(t, err, &verr)
}

// os_Pipe creates an anonymous pipe returning raw Windows handles, avoiding
// an import cycle with package stream (which builds handles on top of this
// package).
func os_Pipe(t *testing.T) (r, w windows.Handle, err error) {
	t.Helper()
	err = windows.CreatePipe(&r, &w, nil, 0)
	return
}
