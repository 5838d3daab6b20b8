// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import "context"

// Handler is the contract every codec variant implements. It is the one
// piece of the core that is, per the project's scope, specified only at its
// boundary: concrete variants live in package registry/codec.
//
// Handle is called with the file position already resolved to *ppos and the
// caller's buffer in buf. On a read at *ppos == 0, the handler writes its
// formatted output into the start of buf, up to *lenp bytes, advances *ppos
// by that count and returns it; the codec handlers return 0 for a read at a
// non-zero *ppos. On a write, it parses buf[:*lenp], mutates the entry's datum and
// returns the number of input bytes it consumed (usually *lenp). The entry's
// owning header is guaranteed, by the caller, to have a use-ref held for the
// duration of the call.
type Handler interface {
	Handle(ctx context.Context, entry *Entry, group *Group, write bool, buf []byte, lenp *int, ppos *int64) (int, error)
}
