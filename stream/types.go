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

package stream

// FileID, PipeID and SocketID are the phantom type parameters to
// handle.Handle that keep a File's id from being confused with a Socket's
// at compile time; none of them are ever instantiated.
type FileID struct{}
type PipeID struct{}
type SocketID struct{}
