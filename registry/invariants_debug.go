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

//go:build debug

package registry

import "fmt"

// Debug build: a violated reference-engine invariant aborts the running
// goroutine with a stack dump, per spec.md §7. Build with `-tags debug` to
// get this behavior; ordinary builds use invariants_release.go instead.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("sysctl: invariant violation: " + fmt.Sprintf(format, args...))
	}
}

func onFsRefOverflow(h *header) {
	panic(fmt.Sprintf("sysctl: fs-ref overflow on header %p", h))
}
