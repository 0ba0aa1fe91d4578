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
	"github.com/ioplex/aio/stream"
)

// LookupAndListen resolves host, then binds and listens on the first
// endpoint whose family matches, trying subsequent endpoints on bind/listen
// failure, per the same iterate-until-success contract as LookupAndDial.
func LookupAndListen(ctx context.Context, host string, port uint16, fam Family, sotype, proto, backlog int, async bool) cont.Future[*stream.Socket] {
	lookup := Lookup(ctx, host, port, fam)

	var resume func(w cont.Waker) cont.Future[*stream.Socket]
	resume = func(w cont.Waker) cont.Future[*stream.Socket] {
		lookup = cont.Poll(lookup, w)
		if !lookup.Ready() {
			return cont.Pending(cont.Continuation[*stream.Socket]{Resume: resume})
		}
		eps, err := lookup.Value()
		if err != nil {
			return cont.Errored[*stream.Socket](err)
		}

		var lastErr error
		for _, ep := range eps {
			family := stream.AddressFamily(ep)
			s, serr := stream.NewSocket(family, sotype, proto, async)
			if serr != nil {
				lastErr = serr
				continue
			}
			if berr := s.Bind(ep); berr != nil {
				lastErr = berr
				s.Close()
				continue
			}
			if lerr := s.Listen(backlog); lerr != nil {
				lastErr = lerr
				s.Close()
				continue
			}
			return cont.Resolved(s)
		}
		return cont.Errored[*stream.Socket](lastErr)
	}
	return cont.Pending(cont.Continuation[*stream.Socket]{Resume: resume})
}
