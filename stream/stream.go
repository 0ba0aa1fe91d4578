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

// Package stream implements File, Pipe and Socket: the read/write glue
// between a handle.Handle and an ioqueue.Queue. Sync methods block the
// calling goroutine directly; async methods return a cont.Future that only
// makes progress when the owning Queue's Tick/Run is pumped.
package stream

// Backlog chooses a listen backlog value: callers pass 0 for "OS default",
// any positive value is used as-is, and Default requests the largest
// sensible value for the platform.
const Default = -1
