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

package registry_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opensysctl/sysctlfs/registry"
	"github.com/opensysctl/sysctlfs/registry/codec"
)

func newTestTree() *registry.Tree {
	return registry.NewTree(timeutil.RealClock())
}

// intVecTable builds a single-entry table, the same shape systables.go's
// kernelTable/vmTable/forwardingTable use: the entry's Name is the leaf
// file, distinct from the directory path it gets registered under.
func intVecTable(name string, min, max int64, initial ...int64) registry.Table {
	return registry.Table{
		{
			Name:    name,
			Data:    codec.NewIntVec(initial...),
			MaxLen:  64,
			Mode:    0o644,
			Handler: codec.IntVector,
			Min:     min,
			Max:     max,
		},
	}
}

func readAll(t *testing.T, tree *registry.Tree, h *registry.Handle, group *registry.Group, entry *registry.Entry) string {
	t.Helper()
	buf := make([]byte, 256)
	n := len(buf)
	var pos int64
	written, err := tree.IO(context.Background(), h, group, entry, false, buf, &n, &pos)
	require.NoError(t, err)
	return string(buf[:written])
}

func writeAll(tree *registry.Tree, h *registry.Handle, group *registry.Group, entry *registry.Entry, s string) error {
	buf := []byte(s)
	n := len(buf)
	var pos int64
	_, err := tree.IO(context.Background(), h, group, entry, true, buf, &n, &pos)
	return err
}

// TestRegisterLookupFindsTable covers the basic shape invariant: a freshly
// registered table resolves through Lookup as a leaf entry of the
// directory it was attached to, with the intermediate directory itself
// resolving as a directory.
func TestRegisterLookupFindsTable(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)
	require.NotNil(t, h)

	kernelDir, entry, owner, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)
	require.NotNil(t, kernelDir)
	assert.True(t, kernelDir.IsDir())
	assert.Nil(t, entry)
	assert.Nil(t, owner)

	_, found, foundOwner, err := tree.Lookup(kernelDir, group, "pid_max")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, foundOwner)
	assert.Equal(t, "pid_max", found.Name)
}

// TestLookupMissingNameIsNotFound covers the negative lookup path: a name
// that was never registered anywhere resolves to ErrNotFound, not a panic
// or a zero-value handle masquerading as success.
func TestLookupMissingNameIsNotFound(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	_, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)

	_, _, _, err = tree.Lookup(kernelDir, group, "no-such-entry")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, _, _, err = tree.Lookup(tree.RootHandle(), group, "no-such-dir")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// TestUnregisterThenLookupIsNotFound covers the visibility guarantee:
// unregistering a table removes it (and the directory chain it created,
// since nothing else uses that chain) from view entirely.
func TestUnregisterThenLookupIsNotFound(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	tree.Unregister(h)

	_, _, _, err = tree.Lookup(tree.RootHandle(), group, "kernel")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// TestDuplicateNameAtSameLevelIsRejected covers the duplicate-detection
// invariant: registering a second table whose entry reuses a procname
// already present at that directory is rejected, without disturbing the
// original registration.
func TestDuplicateNameAtSameLevelIsRejected(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	_, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	_, err = tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 0, 1, 0))
	assert.ErrorIs(t, err, registry.ErrNameCollision)

	// The original registration must still be intact.
	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)
	_, entry, _, err := tree.Lookup(kernelDir, group, "pid_max")
	require.NoError(t, err)
	assert.Equal(t, "pid_max", entry.Name)
}

// TestDuplicateWithinTableIsRejectedAtRegister covers Table.validate: a
// table with two entries sharing a name is rejected up front, before
// touching the tree at all.
func TestDuplicateWithinTableIsRejectedAtRegister(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	table := registry.Table{
		{Name: "a", Data: codec.NewIntVec(0), Mode: 0o644, Handler: codec.IntVector},
		{Name: "a", Data: codec.NewIntVec(0), Mode: 0o644, Handler: codec.IntVector},
	}
	_, err := tree.Register(group, []string{"dup"}, table)
	assert.ErrorIs(t, err, registry.ErrInvalid)

	_, _, _, err = tree.Lookup(tree.RootHandle(), group, "dup")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// TestDeepPathRegisterAndUnregister covers a ten-level-deep directory
// registration: every intermediate directory must be created, walkable,
// and then fully removed again once the one table hanging off the bottom
// is unregistered.
func TestDeepPathRegisterAndUnregister(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	path := make([]string, 10)
	for i := range path {
		path[i] = fmt.Sprintf("level%d", i)
	}

	h, err := tree.Register(group, path, intVecTable("leaf", 0, 100, 5))
	require.NoError(t, err)

	dir := tree.RootHandle()
	for _, name := range path {
		var lookupErr error
		dir, _, _, lookupErr = tree.Lookup(dir, group, name)
		require.NoError(t, lookupErr)
		require.NotNil(t, dir)
	}
	_, entry, _, err := tree.Lookup(dir, group, "leaf")
	require.NoError(t, err)
	assert.Equal(t, "leaf", entry.Name)

	tree.Unregister(h)

	_, _, _, err = tree.Lookup(tree.RootHandle(), group, path[0])
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// TestSharedDirectoryOutlivesOneOfTwoOwners covers owner-refs bookkeeping
// across a shared path prefix: two tables registered under sibling
// directories that share a common parent keep that parent alive as long as
// either sibling survives, and only unregistering both removes it.
func TestSharedDirectoryOutlivesOneOfTwoOwners(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h1, err := tree.Register(group, []string{"net", "ipv4", "tcp_rmem"}, intVecTable("tcp_rmem", 0, 1<<30, 4096, 87380, 6291456))
	require.NoError(t, err)
	h2, err := tree.Register(group, []string{"net", "ipv4", "tcp_wmem"}, intVecTable("tcp_wmem", 0, 1<<30, 4096, 16384, 4194304))
	require.NoError(t, err)

	tree.Unregister(h1)

	ipv4Dir, _, _, err := tree.Lookup(tree.RootHandle(), group, "net")
	require.NoError(t, err)
	ipv4Dir, _, _, err = tree.Lookup(ipv4Dir, group, "ipv4")
	require.NoError(t, err)

	_, _, _, err = tree.Lookup(ipv4Dir, group, "tcp_rmem")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	tcpWmemDir, _, _, err := tree.Lookup(ipv4Dir, group, "tcp_wmem")
	require.NoError(t, err)
	_, entry, _, err := tree.Lookup(tcpWmemDir, group, "tcp_wmem")
	require.NoError(t, err)
	assert.Equal(t, "tcp_wmem", entry.Name)

	tree.Unregister(h2)
	_, _, _, err = tree.Lookup(tree.RootHandle(), group, "net")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

// TestIntVectorRoundTripAndBounds covers both the int-vector codec's
// round-trip (write then read returns what was written) and its min/max
// enforcement, driven through the full Tree.IO path rather than unit-tested
// against the codec directly.
func TestIntVectorRoundTripAndBounds(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)
	_, entry, owner, err := tree.Lookup(kernelDir, group, "pid_max")
	require.NoError(t, err)

	assert.Equal(t, "32768\n", readAll(t, tree, owner, group, entry))

	require.NoError(t, writeAll(tree, owner, group, entry, "65536\n"))
	assert.Equal(t, "65536\n", readAll(t, tree, owner, group, entry))

	err = writeAll(tree, owner, group, entry, "99999999\n")
	assert.ErrorIs(t, err, registry.ErrInvalid)
	// Rejected write must not have mutated the datum.
	assert.Equal(t, "65536\n", readAll(t, tree, owner, group, entry))

	tree.Unregister(h)
}

// TestBitmapRoundTrip covers the bitmap codec's range-list syntax through a
// full register/write/read cycle: writing a range list at offset zero
// replaces the set, and reading back renders the same ranges.
func TestBitmapRoundTrip(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	bm := codec.NewBitmap(64)
	table := registry.Table{
		{Name: "cpu_mask", Data: bm, MaxLen: 64, Mode: 0o644, Handler: codec.BitmapHandler},
	}
	h, err := tree.Register(group, []string{"kernel"}, table)
	require.NoError(t, err)

	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)
	_, entry, owner, err := tree.Lookup(kernelDir, group, "cpu_mask")
	require.NoError(t, err)

	require.NoError(t, writeAll(tree, owner, group, entry, "0,2-4\n"))
	assert.Equal(t, "0,2-4\n", readAll(t, tree, owner, group, entry))

	tree.Unregister(h)
}

// TestCorrespondentCollisionRule covers the one invariant spec.md calls out
// by name: a shared directory that has already grown a namespace
// correspondent refuses a later shared registration that would collide
// with a name the correspondent claimed.
func TestCorrespondentCollisionRule(t *testing.T) {
	tree := newTestTree()
	root := tree.RootGroup()
	ns := tree.NewGroup(registry.GroupOptions{Name: "ns-a", HasCorrespondents: true})

	_, err := tree.RegisterDir(root, []string{"net", "ipv4"})
	require.NoError(t, err)

	// The namespace group registers a correspondent directory named "conf"
	// under the shared net/ipv4 directory.
	_, err = tree.RegisterDir(ns, []string{"net", "ipv4", "conf"})
	require.NoError(t, err)

	// A later shared registration of the same name at the same level must
	// now fail: the correspondent already claimed "conf".
	_, err = tree.RegisterDir(root, []string{"net", "ipv4", "conf"})
	assert.ErrorIs(t, err, registry.ErrCorrespondentCollision)
}

// TestNamespaceOverlayVisibility covers the overlay model: an entry
// registered only through a namespace group's correspondent is visible
// through that group but not through the root group, and the shared
// siblings remain visible through both.
func TestNamespaceOverlayVisibility(t *testing.T) {
	tree := newTestTree()
	root := tree.RootGroup()
	ns := tree.NewGroup(registry.GroupOptions{Name: "ns-a", HasCorrespondents: true})

	_, err := tree.Register(root, []string{"net", "ipv4"}, intVecTable("forwarding", 0, 1, 0))
	require.NoError(t, err)

	_, err = tree.Register(ns, []string{"net", "ipv4", "conf"}, intVecTable("lo_forwarding", 0, 1, 1))
	require.NoError(t, err)

	netDir, _, _, err := tree.Lookup(tree.RootHandle(), root, "net")
	require.NoError(t, err)
	ipv4Dir, _, _, err := tree.Lookup(netDir, root, "ipv4")
	require.NoError(t, err)

	// Root group sees the shared entry but not the namespace's correspondent
	// directory.
	_, entry, _, err := tree.Lookup(ipv4Dir, root, "forwarding")
	require.NoError(t, err)
	assert.Equal(t, "forwarding", entry.Name)
	_, _, _, err = tree.Lookup(ipv4Dir, root, "conf")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// The namespace group sees both the shared entry (by falling through to
	// the shared directory) and its own correspondent's subtree.
	netDirNS, _, _, err := tree.Lookup(tree.RootHandle(), ns, "net")
	require.NoError(t, err)
	ipv4DirNS, _, _, err := tree.Lookup(netDirNS, ns, "ipv4")
	require.NoError(t, err)
	_, entry, _, err = tree.Lookup(ipv4DirNS, ns, "forwarding")
	require.NoError(t, err)
	assert.Equal(t, "forwarding", entry.Name)
	confDirNS, _, _, err := tree.Lookup(ipv4DirNS, ns, "conf")
	require.NoError(t, err)
	_, entry, _, err = tree.Lookup(confDirNS, ns, "lo_forwarding")
	require.NoError(t, err)
	assert.Equal(t, "lo_forwarding", entry.Name)
}

// TestReadDirListsSubdirsThenTablesThenCorrespondent covers readdir
// ordering: shared subdirs, shared tables, then (if the group has a
// correspondent here) its subdirs and tables, with no duplicates and no
// entry skipped.
func TestReadDirListsSubdirsThenTablesThenCorrespondent(t *testing.T) {
	tree := newTestTree()
	root := tree.RootGroup()
	ns := tree.NewGroup(registry.GroupOptions{Name: "ns-a", HasCorrespondents: true})

	_, err := tree.RegisterDir(root, []string{"net", "ipv4", "sub"})
	require.NoError(t, err)
	_, err = tree.Register(root, []string{"net", "ipv4"}, intVecTable("forwarding", 0, 1, 0))
	require.NoError(t, err)
	_, err = tree.RegisterDir(ns, []string{"net", "ipv4", "conf"})
	require.NoError(t, err)

	netDir, _, _, err := tree.Lookup(tree.RootHandle(), ns, "net")
	require.NoError(t, err)
	ipv4Dir, _, _, err := tree.Lookup(netDir, ns, "ipv4")
	require.NoError(t, err)

	var names []string
	cursor := 0
	for {
		next, err := tree.ReadDir(ipv4Dir, ns, cursor, func(e registry.DirEntry) bool {
			names = append(names, e.Name)
			return true
		})
		require.NoError(t, err)
		if next == cursor {
			break
		}
		cursor = next
	}

	assert.Equal(t, []string{"sub", "forwarding", "conf"}, names)
}

// TestConcurrentLookupDuringUnregister covers the race the reference engine
// exists for: many goroutines repeatedly looking up an entry while another
// goroutine unregisters it must each observe either a valid lookup or
// ErrNotFound/ErrEntryGone, never a panic, a dangling handle, or any other
// error.
func TestConcurrentLookupDuringUnregister(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				_, _, _, err := tree.Lookup(kernelDir, group, "pid_max")
				if err != nil && err != registry.ErrNotFound && err != registry.ErrEntryGone {
					return fmt.Errorf("unexpected lookup error: %w", err)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		tree.Unregister(h)
		return nil
	})
	require.NoError(t, g.Wait())
}

// TestIOAfterUnregisterIsEntryGone covers the re-validation spec.md calls
// for at the top of I/O: once a table has been unregistered, an open
// handle's IO call re-checks visibility and fails with ErrEntryGone rather
// than touching the (possibly already reused) datum, regardless of whether
// an fs-ref is still outstanding on it.
func TestIOAfterUnregisterIsEntryGone(t *testing.T) {
	tree := newTestTree()
	group := tree.RootGroup()

	h, err := tree.Register(group, []string{"kernel"}, intVecTable("pid_max", 1, 1<<22, 32768))
	require.NoError(t, err)

	kernelDir, _, _, err := tree.Lookup(tree.RootHandle(), group, "kernel")
	require.NoError(t, err)
	_, entry, owner, err := tree.Lookup(kernelDir, group, "pid_max")
	require.NoError(t, err)
	require.NoError(t, tree.AcquireFs(owner))

	tree.Unregister(h)

	buf := make([]byte, 64)
	n := len(buf)
	var pos int64
	_, err = tree.IO(context.Background(), owner, group, entry, false, buf, &n, &pos)
	assert.ErrorIs(t, err, registry.ErrEntryGone)

	// ReleaseFs must still be safe to call once the inode referencing this
	// handle is torn down, even though the header is already unregistered.
	tree.ReleaseFs(owner)
}
