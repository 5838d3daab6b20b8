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

//go:build !debug

package registry

import "github.com/opensysctl/sysctlfs/internal/logger"

// Release build: a violated reference-engine invariant is logged and the
// tree is left in whatever state it's in rather than crashing the process,
// per spec.md §7 "in release builds leaves the tree in a safe but warned
// state".
func assertf(cond bool, format string, args ...any) {
	if !cond {
		logger.Errorf("sysctl: invariant violation: "+format, args...)
	}
}

func onFsRefOverflow(h *header) {
	logger.Errorf("sysctl: fs-ref overflow on header %p; refusing further pins", h)
}
