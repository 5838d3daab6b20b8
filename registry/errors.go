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

import "errors"

// User-visible error classes, per the core's external interface contract.
// Package fs maps each of these to the matching errno.
var (
	// ErrEntryGone is returned when acquire-use finds a header already
	// unregistering: "entry vanished" (spec.md §4.2 Failure semantics).
	ErrEntryGone = errors.New("sysctl: entry no longer registered")

	// ErrPermission is returned when the caller's uid/gid fail the mode
	// bitmask check.
	ErrPermission = errors.New("sysctl: permission denied")

	// ErrReadOnly is returned for a write attempted against a mode that
	// forbids it (including entries of the read-only group, whose
	// permission hook clears every write bit) and for any execute request.
	ErrReadOnly = errors.New("sysctl: read-only")

	// ErrInvalid covers malformed input, out-of-range values and
	// misconfigured tables.
	ErrInvalid = errors.New("sysctl: invalid argument")

	// ErrNoMemory is returned for allocation failures (including fs-ref
	// overflow outside of debug builds) and transient registration
	// failures.
	ErrNoMemory = errors.New("sysctl: no memory")

	// ErrFault stands in for a bad user buffer. It is available to Handler
	// implementations; none of the codec handlers in this module return it.
	ErrFault = errors.New("sysctl: bad address")

	// ErrNameCollision is returned by Register/RegisterDir when the
	// requested path or procname collides with an existing sibling, per
	// the duplicate-detection invariant (spec.md §4.3).
	ErrNameCollision = errors.New("sysctl: name already registered at this level")

	// ErrCorrespondentCollision is returned when a shared registration
	// would land on a name already claimed by a namespace correspondent
	// at the same level (spec.md §4.4 "Rule enforced at registration").
	ErrCorrespondentCollision = errors.New("sysctl: name already claimed by a namespace correspondent")

	// ErrNotFound is returned by Lookup when name resolves to neither a
	// subdirectory nor a table entry, in the shared tree or any applicable
	// correspondent.
	ErrNotFound = errors.New("sysctl: no such entry")
)
