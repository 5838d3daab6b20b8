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

package netns

import (
	"fmt"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opensysctl/sysctlfs/registry"
)

func newTestManager() *Manager {
	tree := registry.NewTree(timeutil.RealClock())
	return NewManager(tree, timeutil.RealClock())
}

func TestCreateAssignsDistinctIDsAndGroups(t *testing.T) {
	m := newTestManager()

	a := m.Create("ns-a")
	b := m.Create("ns-b")

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Group(), b.Group())
	assert.True(t, a.Group().HasCorrespondents())
	assert.True(t, b.Group().HasCorrespondents())
}

func TestLookupAndList(t *testing.T) {
	m := newTestManager()
	ns := m.Create("ns-a")

	got := m.Lookup(ns.ID)
	require.NotNil(t, got)
	assert.Equal(t, ns.ID, got.ID)

	assert.Len(t, m.List(), 1)
	assert.Nil(t, m.Lookup("no-such-id"))
}

func TestDestroyRemovesNamespace(t *testing.T) {
	m := newTestManager()
	ns := m.Create("ns-a")

	m.Destroy(ns.ID)

	assert.Nil(t, m.Lookup(ns.ID))
	assert.Empty(t, m.List())

	// Destroying an already-gone namespace is a no-op, not an error.
	m.Destroy(ns.ID)
}

func TestConcurrentCreateIsRace_Free(t *testing.T) {
	m := newTestManager()

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		i := i
		g.Go(func() error {
			ns := m.Create(fmt.Sprintf("ns-%d", i))
			if ns.Group() == nil {
				return fmt.Errorf("namespace %d got a nil group", i)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, m.List(), 32)
}
