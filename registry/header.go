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

import (
	"sync"
	"sync/atomic"

	"github.com/jacobsa/syncutil"
)

type kind int

const (
	kindDir kind = iota
	kindTable
)

// unregState is the header's "unregistering" slot (spec.md §4.2): none means
// the header is live, barrier means one or more use-refs are outstanding
// and a waiter has installed a rendezvous, sentinel means the header has
// begun unregistering with no one left to wait for.
type unregState int

const (
	unregNone unregState = iota
	unregBarrier
	unregSentinel
)

// header is the unit of registration (spec.md §3 "Header"). It is never
// exposed directly outside this package; callers hold an opaque *Handle.
type header struct {
	// Constant for the life of the header (set once at mint time, read
	// without the engine lock thereafter).
	kindOf kind
	parent *header
	group  *Group
	tree   *Tree

	// kindDir only: the directory's own name ("" marks a namespace
	// correspondent, spec.md §4.4) and its two child lists. subdirs and
	// tables are copy-on-write snapshots behind an atomic pointer so that
	// readers under reclaimer protection see one consistent slice even
	// while a writer is splicing a new entry in (spec.md §5 "RCU-style
	// traversal").
	dirName string
	subdirs atomic.Pointer[[]*header]
	tables  atomic.Pointer[[]*header]
	// dirMu serialises mutation of subdirs/tables; it is never held
	// across allocation or any blocking call (spec.md §5).
	dirMu syncutil.InvariantMutex

	// kindTable only: the table array this header owns. Never copied,
	// only referenced, per spec.md §3 "Table array".
	table Table

	// Reference engine state (spec.md §4.2). Mutated only while the
	// owning Tree's Engine lock is held.
	useRefs   uint32
	fsRefs    uint32
	ownerRefs uint32
	unreg     unregState
	barrier   *unregBarrier

	// dirsCreated records how many ancestor directory headers this
	// registration caused to be created, for symmetric teardown in
	// Unregister (spec.md §4.3 "Unregistration").
	dirsCreated int

	// handleOnce/handle memoize this header's *Handle wrapper so repeated
	// lookups of the same header return the identical pointer: package fs
	// keys its inode table on *Handle identity (fuseops.InodeID reuse
	// across repeated kernel lookups requires this), mirroring the way
	// gcsfuse's fs.inodes map is keyed on a stable inode.Inode value rather
	// than minting a fresh wrapper per lookup.
	handleOnce sync.Once
	handle     *Handle
}

// asHandle returns this header's memoized *Handle, creating it on first
// use. A header allocated from the pool is reset (including handleOnce) on
// return to the free list, so reused storage never leaks a stale Handle.
func (h *header) asHandle() *Handle {
	h.handleOnce.Do(func() { h.handle = &Handle{h: h} })
	return h.handle
}

func (h *header) reset() {
	h.kindOf = kindDir
	h.parent = nil
	h.group = nil
	h.tree = nil
	h.dirName = ""
	h.subdirs.Store(nil)
	h.tables.Store(nil)
	h.dirMu = syncutil.InvariantMutex{}
	h.table = nil
	h.useRefs = 0
	h.fsRefs = 0
	h.ownerRefs = 0
	h.unreg = unregNone
	h.barrier = nil
	h.dirsCreated = 0
	h.handleOnce = sync.Once{}
	h.handle = nil
}

func (h *header) isCorrespondent() bool {
	return h.kindOf == kindDir && h.parent != nil && h.dirName == ""
}

func (h *header) loadSubdirs() []*header {
	p := h.subdirs.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (h *header) loadTables() []*header {
	p := h.tables.Load()
	if p == nil {
		return nil
	}
	return *p
}

// storeSubdirs/storeTables publish a brand new slice; callers must hold
// dirMu.
func (h *header) storeSubdirs(s []*header) { h.subdirs.Store(&s) }
func (h *header) storeTables(s []*header)  { h.tables.Store(&s) }

// Handle is the opaque value returned by Register/RegisterDir and consumed
// by Unregister. It carries no exported fields; callers only pass it back.
type Handle struct {
	h *header
}
