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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPipeEOF closes the write end, then reads with a 10-byte buffer ->
// returns 0, no error.
func TestPipeEOF(t *testing.T) {
	r, w, err := NewPipe(false)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, w.Close())

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeRoundTrip(t *testing.T) {
	r, w, err := NewPipe(false)
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := []byte("hello from the write end")
	go func() {
		n, werr := w.Write(payload)
		assert.NoError(t, werr)
		assert.Equal(t, len(payload), n)
	}()

	buf := make([]byte, len(payload))
	total := 0
	for total < len(buf) {
		n, rerr := r.Read(buf[total:])
		require.NoError(t, rerr)
		total += n
	}
	assert.Equal(t, payload, buf)
}
