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

// This file is the component 5 "filesystem adapter" boundary (spec.md
// §4.5): the only exported surface through which package fs is allowed to
// touch the tree. Everything below operates in terms of *Handle so fs never
// sees an unexported *header.

// RootHandle returns the tree's synthetic root directory, the entry point
// for every lookup/readdir chain.
func (t *Tree) RootHandle() *Handle { return t.root.asHandle() }

// IsDir reports whether h denotes a directory (shared or correspondent)
// rather than a table-header attachment point.
func (h *Handle) IsDir() bool { return h.h.kindOf == kindDir }

// Name returns the directory-name of h, or "" for a correspondent or a
// table header (table headers are named by their entries' procnames, not
// by a directory-name of their own).
func (h *Handle) Name() string { return h.h.dirName }

// Group returns the group that registered h.
func (h *Handle) Group() *Group { return h.h.group }

// DirEntry is one name emitted by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Lookup implements spec.md §4.5 "lookup(parent-inode, name)": search
// parent's own subdirs then tables under reader protection, falling back to
// group's correspondent of parent (if any) when the name isn't resolved
// directly. Returns exactly one of (child directory handle) or (entry,
// entry's owning table handle).
//
// acquire-use is taken on parent (and, if consulted, the correspondent) for
// the duration of the search only; the returned child/owner handle carries
// no reference of its own; callers pin it via AcquireFs before returning
// control to the kernel (spec.md §4.5 "acquire-fs on the located header").
func (t *Tree) Lookup(parent *Handle, group *Group, name string) (child *Handle, entry *Entry, owner *Handle, err error) {
	child, entry, owner, err = t.lookupIn(parent.h, name)
	if err == nil {
		return
	}
	if err != ErrNotFound {
		return
	}

	corr := t.findCorrespondent(group, parent.h)
	if corr == nil {
		return nil, nil, nil, ErrNotFound
	}
	return t.lookupIn(corr, name)
}

func (t *Tree) lookupIn(parent *header, name string) (*Handle, *Entry, *Handle, error) {
	if !t.engine.acquireUse(parent) {
		return nil, nil, nil, ErrEntryGone
	}
	defer t.engine.releaseUse(parent)

	// The epoch must stay open until every *header this search touches has
	// been fully dereferenced, including minting its *Handle: asHandle
	// reads h.handleOnce/h.handle off the same pooled struct the slice
	// traversal just walked, and a header reclaimed the instant the epoch
	// closes is handed to sync.Pool for reuse (spec.md §5 "readers see a
	// consistent list snapshot; freed nodes are delayed past all concurrent
	// readers").
	ep := t.engine.enterRead()
	defer t.engine.exitRead(ep)

	dir := findSubdir(parent, name)
	if dir != nil {
		return dir.asHandle(), nil, nil, nil
	}
	owner, entry := findEntry(parent, name)
	if entry != nil {
		return nil, entry, owner.asHandle(), nil
	}
	return nil, nil, nil, ErrNotFound
}

// ReadDir implements spec.md §4.5 "readdir(dir-inode, cursor, emit)" for
// everything past "." and ".." (callers emit those two themselves at
// cursor positions 0 and 1, per the spec, since they carry no registry
// state). Ordering is shared subdirs, shared tables, correspondent subdirs,
// correspondent tables, exactly as spec.md mandates; cursor indexes into
// that concatenation. emit returning false stops the walk early (buffer
// full) without consuming the remaining entries.
func (t *Tree) ReadDir(parent *Handle, group *Group, cursor int, emit func(DirEntry) bool) (next int, err error) {
	if !t.engine.acquireUse(parent.h) {
		return cursor, ErrEntryGone
	}

	// As in lookupIn, the epoch has to stay open across walkNames itself,
	// not just across the slice-pointer loads: walkNames dereferences each
	// *header's dirName/table fields, and a header reclaimed between
	// exitRead and that dereference would hand the reader a stale or
	// foreign name (spec.md §5, §8 "must... never [return] a dangling
	// reference").
	ep := t.engine.enterRead()
	subdirs := parent.h.loadSubdirs()
	tables := parent.h.loadTables()
	t.engine.releaseUse(parent.h)

	idx := 0
	full := walkNames(subdirs, tables, cursor, &idx, emit)
	t.engine.exitRead(ep)
	if !full {
		return idx, nil
	}

	corr := t.findCorrespondent(group, parent.h)
	if corr == nil {
		return idx, nil
	}

	if !t.engine.acquireUse(corr) {
		// The correspondent vanished between the scan above and here; that's
		// fine, it simply has nothing left to contribute.
		return idx, nil
	}
	ep = t.engine.enterRead()
	csub := corr.loadSubdirs()
	ctab := corr.loadTables()
	t.engine.releaseUse(corr)

	walkNames(csub, ctab, cursor, &idx, emit)
	t.engine.exitRead(ep)
	return idx, nil
}

// walkNames emits subdirs then table entries starting at idx, advancing idx
// past every candidate whether or not it was at-or-past cursor. Returns
// false if emit asked to stop.
func walkNames(subdirs, tables []*header, cursor int, idx *int, emit func(DirEntry) bool) bool {
	for _, s := range subdirs {
		if *idx >= cursor {
			if !emit(DirEntry{Name: s.dirName, IsDir: true}) {
				return false
			}
		}
		*idx++
	}
	for _, tb := range tables {
		for i := range tb.table {
			if *idx >= cursor {
				if !emit(DirEntry{Name: tb.table[i].Name, IsDir: false}) {
					return false
				}
			}
			*idx++
		}
	}
	return true
}

// AcquireFs pins h for the lifetime of a filesystem inode (spec.md §4.5
// "acquire-fs on the located header").
func (t *Tree) AcquireFs(h *Handle) error { return t.engine.acquireFs(h.h) }

// ReleaseFs unpins h when the owning inode is torn down (spec.md §4.5
// "Inode teardown calls release-fs").
func (t *Tree) ReleaseFs(h *Handle) { t.engine.releaseFs(h.h) }

// IO implements spec.md §4.5 "read / write(inode, userbuf, len, offset)":
// re-acquire a use-ref on h (re-validating it is still visible, per §4.3
// "I/O re-validates that the owning header is still visible"), then
// dispatch to entry's handler. h must be the table header owning entry.
func (t *Tree) IO(ctx context.Context, h *Handle, group *Group, entry *Entry, write bool, buf []byte, lenp *int, ppos *int64) (int, error) {
	if !t.engine.acquireUse(h.h) {
		return 0, ErrEntryGone
	}
	defer t.engine.releaseUse(h.h)
	return entry.Handler.Handle(ctx, entry, group, write, buf, lenp, ppos)
}
