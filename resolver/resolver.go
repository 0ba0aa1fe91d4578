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

// Package resolver provides host+port resolution that hands the blocking
// OS lookup off to a background goroutine and resolves a cont.Future from
// there, so the calling event loop is never blocked on DNS.
package resolver

import (
	"context"
	"net"
	"strconv"

	"github.com/ioplex/aio/aioerr"
	"github.com/ioplex/aio/concurrency/gopool"
	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/endpoint"
	"golang.org/x/net/idna"
)

// Family constrains which endpoint families a Lookup accepts.
type Family int

const (
	// Any accepts both IPv4 and IPv6 results.
	Any Family = iota
	V4Only
	V6Only
)

// Lookup resolves host for port, off-loaded onto a gopool worker so the
// caller's goroutine (typically the one driving an ioqueue.Queue) never
// blocks on the OS resolver. The returned future resolves cross-thread:
// the worker goroutine calls w.Wake() once net.DefaultResolver returns.
func Lookup(ctx context.Context, host string, port uint16, fam Family) cont.Future[[]endpoint.Endpoint] {
	var resume func(w cont.Waker) cont.Future[[]endpoint.Endpoint]
	started := false
	var result []endpoint.Endpoint
	var resultErr error
	done := make(chan struct{})

	resume = func(w cont.Waker) cont.Future[[]endpoint.Endpoint] {
		if !started {
			started = true
			gopool.CtxGo(ctx, func() {
				result, resultErr = lookup(ctx, host, port, fam)
				close(done)
				w.Wake()
			})
		}
		select {
		case <-done:
			if resultErr != nil {
				return cont.Errored[[]endpoint.Endpoint](resultErr)
			}
			return cont.Resolved(result)
		default:
			return cont.Pending(cont.Continuation[[]endpoint.Endpoint]{Resume: resume})
		}
	}
	return cont.Pending(cont.Continuation[[]endpoint.Endpoint]{Resume: resume})
}

func lookup(ctx context.Context, host string, port uint16, fam Family) ([]endpoint.Endpoint, error) {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, &aioerr.ResolverError{Message: err.Error()}
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, ascii)
	if err != nil {
		return nil, &aioerr.ResolverError{Message: err.Error()}
	}
	eps := make([]endpoint.Endpoint, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			if fam == V6Only {
				continue
			}
			var addr [4]byte
			copy(addr[:], v4)
			eps = append(eps, endpoint.FromV4(endpoint.NewV4(port, addr)))
			continue
		}
		if fam == V4Only {
			continue
		}
		var addr [16]byte
		copy(addr[:], ip.IP.To16())
		var scope uint32
		if ip.Zone != "" {
			if iface, ierr := net.InterfaceByName(ip.Zone); ierr == nil {
				scope = uint32(iface.Index)
			}
		}
		eps = append(eps, endpoint.FromV6(endpoint.NewV6(port, addr, 0, scope)))
	}
	if len(eps) == 0 {
		return nil, &aioerr.IncompatibleEndpointError{
			Detail: "no endpoint for " + host + ":" + strconv.Itoa(int(port)) + " matched the requested family",
		}
	}
	return eps, nil
}
