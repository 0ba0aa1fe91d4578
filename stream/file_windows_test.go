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
	"path/filepath"
	"testing"

	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/ioqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func TestFileSyncWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")

	f, err := OpenFile(path, windows.GENERIC_READ|windows.GENERIC_WRITE, 0, windows.CREATE_ALWAYS, false)
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("regular files fully satisfy a write or raise")
	n, err := f.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	_, serr := windows.SetFilePointer(f.Handle(), 0, nil, windows.FILE_BEGIN)
	require.NoError(t, serr)

	buf := make([]byte, len(payload))
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestFileAsyncWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "async")

	f, err := OpenFile(path, windows.GENERIC_READ|windows.GENERIC_WRITE, 0, windows.CREATE_ALWAYS, true)
	require.NoError(t, err)
	defer f.Close()

	q, err := ioqueue.Open(ioqueue.DefaultConfig())
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, f.Associate(q))

	payload := []byte("async overlapped write then read")
	n, err := cont.Wait[int](q, f.WriteAsync(q, payload))
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	f2, err := OpenFile(path, windows.GENERIC_READ, windows.FILE_SHARE_READ, windows.OPEN_EXISTING, true)
	require.NoError(t, err)
	defer f2.Close()
	require.NoError(t, f2.Associate(q))

	n, err = cont.Wait[int](q, f2.ReadAsync(q, buf))
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}
