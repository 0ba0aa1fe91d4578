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

package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV4RoundTrip(t *testing.T) {
	v := NewV4(8080, [4]byte{127, 0, 0, 1})
	assert.Equal(t, uint16(8080), v.Port())
	assert.Equal(t, [4]byte{127, 0, 0, 1}, v.Addr())
	assert.Equal(t, "127.0.0.1:8080", v.String())
}

func TestV4EqualityIsByteLevel(t *testing.T) {
	a := NewV4(1, [4]byte{1, 2, 3, 4})
	b := NewV4(1, [4]byte{1, 2, 3, 4})
	c := NewV4(2, [4]byte{1, 2, 3, 4})
	assert.Equal(t, a, b)
	assert.True(t, a == b)
	assert.False(t, a == c)
}

func groupsToAddr(g [8]uint16) [16]byte {
	var a [16]byte
	for i, x := range g {
		a[i*2] = byte(x >> 8)
		a[i*2+1] = byte(x)
	}
	return a
}

func TestV6TextFormattingScenario(t *testing.T) {
	// ip6(0x2001,0x0db8,0,0,0,0,0,1): not v4-mapped (the leading group is
	// nonzero), so String renders via the standard longest-zero-run
	// collapsing shorthand.
	addr := groupsToAddr([8]uint16{0x2001, 0x0db8, 0, 0, 0, 0, 0, 1})
	v := NewV6(0, addr, 0, 0)
	assert.Equal(t, "[2001:db8::1]:0", v.String())
}

func TestV4MappedShortcut(t *testing.T) {
	// ip6(0,0,0,0,0,0xffff,0xffff,0x7f01): groups 0-4 zero and group 5 is
	// 0xffff, so this is v4-mapped; the trailing 32 bits render as the
	// embedded IPv4 address 255.255.127.1.
	addr := groupsToAddr([8]uint16{0, 0, 0, 0, 0, 0xffff, 0xffff, 0x7f01})
	v := NewV6(0, addr, 0, 0)
	assert.Equal(t, "[::ffff:255.255.127.1]:0", v.String())
}

func TestEndpointTaggedUnion(t *testing.T) {
	v4 := FromV4(NewV4(1, [4]byte{10, 0, 0, 1}))
	require.True(t, v4.IsV4())
	require.False(t, v4.IsV6())
	fam, err := v4.Family()
	require.NoError(t, err)
	assert.Equal(t, FamilyV4, fam)

	v6 := FromV6(NewV6(1, [16]byte{}, 0, 0))
	require.True(t, v6.IsV6())
	assert.NotEqual(t, v4, v6)
}

func TestZeroEndpointFamilyIsValueError(t *testing.T) {
	var e Endpoint
	_, err := e.Family()
	assert.Error(t, err)
}
