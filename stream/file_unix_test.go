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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFileWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")

	f, err := OpenFile(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0o600)
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("regular files fully satisfy a write or raise")
	n, err := f.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	_, err = unix.Seek(f.Fd(), 0, 0)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestFileReadEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	f, err := OpenFile(path, unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	n, err := f.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
