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

// PermissionFunc evaluates the effective mode for an entry, overriding
// Entry.Mode when non-nil (spec.md §4.3 "Permission check").
type PermissionFunc func(entry *Entry) os.FileMode

// IsSeenFunc reports whether an entry should be visible to this group at
// all, independent of permission bits (e.g. hiding entries that require a
// capability the caller's namespace doesn't grant).
type IsSeenFunc func(entry *Entry) bool

// GroupOptions configures a new Group (spec.md §3 "Group", §6 "A group is
// created once per namespace via an initialiser taking its policy hooks
// and correspondent flag").
type GroupOptions struct {
	Name              string
	Permissions       PermissionFunc
	IsSeen            IsSeenFunc
	HasCorrespondents bool
}

// Group is a visibility and policy domain (spec.md §3 "Group"). The root
// group and the read-only group never have correspondents; every network
// namespace owns a group with correspondents enabled.
type Group struct {
	name              string
	permissions       PermissionFunc
	isSeen            IsSeenFunc
	hasCorrespondents bool

	tree *Tree

	// correspondents is this group's list of correspondent headers,
	// guarded by the tree's reference-engine lock rather than a
	// per-group lock, per spec.md §4.3 Unregistration note ("correspondents
	// use the reference-engine lock instead, since they live in a group
	// list").
	correspondents []*header
}

// Name returns the group's identifying name, e.g. a namespace name.
func (g *Group) Name() string { return g.name }

// HasCorrespondents reports whether this group may own correspondent
// overlays.
func (g *Group) HasCorrespondents() bool { return g.hasCorrespondents }

func (g *Group) effectiveMode(e *Entry) os.FileMode {
	if g.permissions != nil {
		return g.permissions(e)
	}
	return e.Mode
}

func (g *Group) visible(e *Entry) bool {
	if g.isSeen != nil {
		return g.isSeen(e)
	}
	return true
}

// findCorrespondent implements spec.md §4.4 "find correspondent(group)":
// scan the group's correspondent list for an entry whose parent is
// sharedParent. Returns nil if absent.
func (t *Tree) findCorrespondent(g *Group, sharedParent *header) *header {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	for _, c := range g.correspondents {
		if c.parent == sharedParent && c.unreg == unregNone {
			return c
		}
	}
	return nil
}

// findOrCreateCorrespondent implements spec.md §4.4
// "find-or-create correspondent(group, shared-parent, spare)": reuse an
// existing correspondent if one is already attached to sharedParent (taking
// an owner-ref on it for this registration), otherwise consume the pre-allocated spare header, mark it as a
// correspondent (empty dirName) and splice it into the group's list.
//
// Returns the correspondent with a use-ref already held (so callers can
// release it the same way they would any other looked-up header), and
// reports whether spare was consumed.
func (t *Tree) findOrCreateCorrespondent(g *Group, sharedParent *header, spare *header) (corr *header, consumed bool) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	for _, c := range g.correspondents {
		if c.parent == sharedParent && c.unreg == unregNone {
			c.ownerRefs++
			c.useRefs++
			return c, false
		}
	}

	spare.kindOf = kindDir
	spare.dirName = ""
	spare.parent = sharedParent
	spare.group = g
	spare.tree = t
	spare.ownerRefs = 1
	spare.useRefs = 1
	g.correspondents = append(g.correspondents, spare)
	return spare, true
}

// detachCorrespondent removes h from its group's correspondent list. Caller
// must hold no locks; this acquires the reference-engine lock itself.
func (t *Tree) detachCorrespondent(h *header) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()
	g := h.group
	for i, c := range g.correspondents {
		if c == h {
			g.correspondents = append(g.correspondents[:i], g.correspondents[i+1:]...)
			return
		}
	}
}
