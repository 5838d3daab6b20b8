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

import "os"

// Access is a POSIX-style access request against an entry's mode bits.
type Access int

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExecute
)

// Owner identifies the single uid/gid every inode in the filesystem is
// owned by, the same simplification gcsfuse's fs.ServerConfig makes
// (Uid/Gid "the user and group owning everything in the file system").
// There is no per-entry owner in spec.md's data model, only a mode.
type Owner struct {
	Uid uint32
	Gid uint32
}

// Caller identifies the effective uid/gid attempting access, taken from the
// incoming FUSE request header at the fs adapter boundary (the kernel has
// already resolved the calling process's credentials into op.Header).
type Caller struct {
	Uid uint32
	Gid uint32
}

// CheckAccess implements spec.md §4.3 "Permission check" /
// §4.5 "permission(inode, mask)": a standard POSIX-style bitmask test of
// mode against the caller's effective uid/gid. Executable access on a
// regular entry is refused unconditionally, per spec.md §6, regardless of
// mode bits (callers should not even ask for AccessExecute against a
// table entry, but this is enforced here too as a backstop).
func CheckAccess(mode os.FileMode, owner Owner, caller Caller, access Access) error {
	if access&AccessExecute != 0 {
		return ErrReadOnly
	}

	perm := uint32(mode.Perm())

	var shift uint
	switch {
	case caller.Uid == owner.Uid:
		shift = 6
	case caller.Gid == owner.Gid:
		shift = 3
	default:
		shift = 0
	}

	want := uint32(0)
	if access&AccessRead != 0 {
		want |= 4
	}
	if access&AccessWrite != 0 {
		want |= 2
	}

	missing := want &^ (perm >> shift)
	switch {
	case missing == 0:
		return nil
	case missing&2 != 0:
		// A denied write bit is specifically "read-only" (§6 EACCES), distinct
		// from every other denied bit, which is an ordinary permission denial.
		return ErrReadOnly
	default:
		return ErrPermission
	}
}

// EffectiveMode resolves the mode to test: the group's permission hook
// when present, else the entry's own declared mode (spec.md §4.3).
func EffectiveMode(g *Group, e *Entry) os.FileMode {
	return g.effectiveMode(e)
}
