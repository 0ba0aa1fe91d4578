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

package resolver

import (
	"context"

	"github.com/ioplex/aio/cont"
	"github.com/ioplex/aio/endpoint"
	"github.com/ioplex/aio/ioqueue"
	"github.com/ioplex/aio/stream"
)

// LookupAndDial resolves host, then tries each returned endpoint with
// ConnectAsync in turn until one succeeds, surfacing the last error if
// every candidate fails.
func LookupAndDial(ctx context.Context, q *ioqueue.Queue, host string, port uint16, fam Family, sotype, proto int) cont.Future[*stream.Socket] {
	lookup := Lookup(ctx, host, port, fam)

	var eps []endpoint.Endpoint
	idx := 0
	var lastErr error
	var sock *stream.Socket
	var connecting cont.Future[struct{}]
	inConnect := false

	var resume func(w cont.Waker) cont.Future[*stream.Socket]
	resume = func(w cont.Waker) cont.Future[*stream.Socket] {
		if eps == nil {
			lookup = cont.Poll(lookup, w)
			if !lookup.Ready() {
				return cont.Pending(cont.Continuation[*stream.Socket]{Resume: resume})
			}
			v, err := lookup.Value()
			if err != nil {
				return cont.Errored[*stream.Socket](err)
			}
			eps = v
		}

		for {
			if !inConnect {
				if idx >= len(eps) {
					return cont.Errored[*stream.Socket](lastErr)
				}
				family := stream.AddressFamily(eps[idx])
				s, err := stream.NewSocket(family, sotype, proto, true)
				if err != nil {
					lastErr = err
					idx++
					continue
				}
				sock = s
				connecting = sock.ConnectAsync(q, eps[idx])
				inConnect = true
			}
			connecting = cont.Poll(connecting, w)
			if !connecting.Ready() {
				return cont.Pending(cont.Continuation[*stream.Socket]{Resume: resume})
			}
			_, err := connecting.Value()
			if err == nil {
				return cont.Resolved(sock)
			}
			lastErr = err
			sock.Close()
			idx++
			inConnect = false
		}
	}
	return cont.Pending(cont.Continuation[*stream.Socket]{Resume: resume})
}
