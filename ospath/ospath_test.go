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

package ospath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestWindowsDriveJoin covers joining a bare drive with path elements.
func TestWindowsDriveJoin(t *testing.T) {
	got := Join(Windows, "c:", "Windows", "System32")
	assert.Equal(t, `C:\Windows\System32`, got)
}

// TestWindowsDotDotAtRootCollapses covers ".." segments above root collapsing to root.
func TestWindowsDotDotAtRootCollapses(t *testing.T) {
	got := Join(Windows, "/", "..", "../..", "stuff")
	assert.Equal(t, `\stuff`, got)
}

func TestPOSIXCollapsesDuplicateSeparatorsAndDotElements(t *testing.T) {
	got := Normalize(POSIX, "/a//b/./c/")
	assert.Equal(t, "/a/b/c", got)
}

func TestPOSIXDotDotAtRootCollapsesToRoot(t *testing.T) {
	got := Normalize(POSIX, "/../../etc")
	assert.Equal(t, "/etc", got)
}

func TestPOSIXRelativeDotDotIsKept(t *testing.T) {
	got := Normalize(POSIX, "../a/../../b")
	assert.Equal(t, "../../b", got)
}

func TestWindowsUNCPrefixPreserved(t *testing.T) {
	got := Normalize(Windows, `\\server\share\a\.\b`)
	assert.Equal(t, `\\server\share\a\b`, got)
}

func TestWindowsUNCMissingShareGetsTrailingSeparator(t *testing.T) {
	got := Normalize(Windows, `\\server`)
	assert.Equal(t, `\\server\`, got)
}

func TestWindowsDeviceNamespacePrefixPreserved(t *testing.T) {
	got := Normalize(Windows, `\\?\C:\a\.\b`)
	assert.Equal(t, `\\?\C:\a\b`, got)
}

// TestIdempotence checks that normalizing an already-normalized path is a
// no-op: Normalize(Normalize(p)) == Normalize(p).
func TestIdempotence(t *testing.T) {
	cases := []struct {
		style Style
		path  string
	}{
		{POSIX, "/a/b/../c/./d"},
		{Windows, `c:\Windows\..\System32\.\drivers`},
		{Windows, `\\server\share\a\.\b`},
	}
	for _, c := range cases {
		once := Normalize(c.style, c.path)
		twice := Normalize(c.style, once)
		assert.Equal(t, once, twice)
	}
}
