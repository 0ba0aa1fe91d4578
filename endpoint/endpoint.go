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

// Package endpoint defines IPv4/IPv6 address endpoints as bit-exact
// replicas of the kernel's sockaddr_in/sockaddr_in6 layout. A stream
// socket's Bind/Connect converts them to the syscall package's Sockaddr
// types before calling into the OS.
package endpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/ioplex/aio/aioerr"
)

// Family distinguishes the two endpoint shapes. Values match the wire
// family tag, not AF_INET/AF_INET6 — platform glue (package stream) maps
// between them.
type Family uint16

const (
	FamilyV4 Family = 2
	FamilyV6 Family = 10
)

// V4 is a bit-exact sockaddr_in: family, port (network order), 4-byte
// address (network order). Every field is a value type, so V4 is
// comparable and == is byte-level.
type V4 struct {
	family  Family
	portBE  [2]byte // network byte order
	addr    [4]byte // network byte order
}

// NewV4 constructs a V4 endpoint from a host-order port and address bytes
// (network order, e.g. 127.0.0.1 -> {127,0,0,1}).
func NewV4(port uint16, addr [4]byte) V4 {
	v := V4{family: FamilyV4, addr: addr}
	binary.BigEndian.PutUint16(v.portBE[:], port)
	return v
}

func (v V4) Family() Family { return v.family }
func (v V4) Port() uint16   { return binary.BigEndian.Uint16(v.portBE[:]) }
func (v V4) Addr() [4]byte  { return v.addr }

func (v V4) String() string {
	a := v.addr
	return fmt.Sprintf("%d.%d.%d.%d:%d", a[0], a[1], a[2], a[3], v.Port())
}

// V6 is a bit-exact sockaddr_in6: family, port (network order), flow id
// (opaque, OS byte order), 16-byte address (network order), scope id
// (opaque, typically host byte order). Every field is a value type, so V6
// is comparable and == is byte-level.
type V6 struct {
	family Family
	portBE [2]byte
	flow   uint32
	addr   [16]byte
	scope  uint32
}

// NewV6 constructs a V6 endpoint from a host-order port, network-order
// address bytes, and opaque flow/scope ids passed through verbatim.
func NewV6(port uint16, addr [16]byte, flow, scope uint32) V6 {
	v := V6{family: FamilyV6, addr: addr, flow: flow, scope: scope}
	binary.BigEndian.PutUint16(v.portBE[:], port)
	return v
}

func (v V6) Family() Family  { return v.family }
func (v V6) Port() uint16    { return binary.BigEndian.Uint16(v.portBE[:]) }
func (v V6) Addr() [16]byte  { return v.addr }
func (v V6) FlowID() uint32  { return v.flow }
func (v V6) ScopeID() uint32 { return v.scope }

// String formats a v4-mapped address (::ffff:0:0/96) as
// "[::ffff:a.b.c.d]:port"; any other address renders as "[addr]:port" with
// the standard zero-run-collapsing shorthand, never applying the v4-mapped
// shortcut to a non-mapped address.
func (v V6) String() string {
	a := v.addr
	isV4Mapped := true
	for i := 0; i < 10; i++ {
		if a[i] != 0 {
			isV4Mapped = false
			break
		}
	}
	if isV4Mapped && a[10] == 0xff && a[11] == 0xff {
		return fmt.Sprintf("[::ffff:%d.%d.%d.%d]:%d", a[12], a[13], a[14], a[15], v.Port())
	}
	return fmt.Sprintf("[%s]:%d", formatV6Shorthand(a), v.Port())
}

// formatV6Shorthand renders a 16-byte address with the standard
// longest-zero-run collapsing rule (RFC 5952). Callers must have already
// ruled out the v4-mapped case; this only picks the longest run of
// all-zero groups (ties go to the earliest run) and collapses it to "::".
func formatV6Shorthand(a [16]byte) string {
	var groups [8]uint16
	for i := 0; i < 8; i++ {
		groups[i] = binary.BigEndian.Uint16(a[i*2 : i*2+2])
	}

	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	for i := 0; i < 8; i++ {
		if groups[i] == 0 {
			if curStart == -1 {
				curStart = i
			}
			curLen++
			if curLen > bestLen {
				bestStart, bestLen = curStart, curLen
			}
		} else {
			curStart, curLen = -1, 0
		}
	}
	if bestLen < 2 {
		bestStart = -1
	}

	out := ""
	i := 0
	for i < 8 {
		if i == bestStart {
			out += "::"
			i += bestLen
			continue
		}
		if i != 0 && i != bestStart+bestLen {
			out += ":"
		}
		out += fmt.Sprintf("%x", groups[i])
		i++
	}
	return out
}

// Endpoint is the tagged union {V4 | V6} the resolver returns. It embeds
// both shapes by value (rather than holding a pointer to whichever is
// active) so Endpoint stays comparable and == stays byte-level, matching
// V4 and V6 themselves.
type Endpoint struct {
	family Family
	v4     V4
	v6     V6
}

func FromV4(v V4) Endpoint { return Endpoint{family: FamilyV4, v4: v} }
func FromV6(v V6) Endpoint { return Endpoint{family: FamilyV6, v6: v} }

// IsV4 reports whether e holds a V4.
func (e Endpoint) IsV4() bool { return e.family == FamilyV4 }

// IsV6 reports whether e holds a V6.
func (e Endpoint) IsV6() bool { return e.family == FamilyV6 }

// V4 returns e's V4 value and true, or the zero value and false.
func (e Endpoint) V4() (V4, bool) {
	if e.family != FamilyV4 {
		return V4{}, false
	}
	return e.v4, true
}

// V6 returns e's V6 value and true, or the zero value and false.
func (e Endpoint) V6() (V6, bool) {
	if e.family != FamilyV6 {
		return V6{}, false
	}
	return e.v6, true
}

// Family reports the endpoint's family, or raises a ValueError if e is the
// zero value (neither FromV4 nor FromV6 was used to construct it).
func (e Endpoint) Family() (Family, error) {
	switch e.family {
	case FamilyV4, FamilyV6:
		return e.family, nil
	default:
		return 0, &aioerr.ValueError{Detail: "Endpoint holds neither V4 nor V6"}
	}
}

func (e Endpoint) String() string {
	switch e.family {
	case FamilyV4:
		return e.v4.String()
	case FamilyV6:
		return e.v6.String()
	default:
		return "<empty endpoint>"
	}
}
